package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/arduino/libraries-repository-engine/internal/harness"
)

// TwoPassOptions holds flags for the twopass command.
type TwoPassOptions struct {
	*RootOptions
	Engine    string
	Name      string
	Manifest  string
	Fixtures  string
	Logs      []string
	Tolerance float64
	Ledger    string
	Report    string
	Keep      bool
}

// NewTwoPassCommand creates the twopass command.
func NewTwoPassCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TwoPassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "twopass",
		Short: "Sync twice and verify both passes against golden fixtures",
		Long: `Run sync over the same manifest twice in one sandbox. After each pass the
archives are cross-checked against the database and the index, and the
published documents and logs are compared with the fixtures. The second pass
must publish the same records as the first.

Fixtures are laid out as:
  DIR/db.json
  DIR/library_index.json
  DIR/logs/generate/<log>
  DIR/logs/update/<log>

Example:
  engine-verify twopass --engine ./libraries-repository-engine \
    --manifest testdata/repos/sync.txt --fixtures testdata/golden/sync \
    --log github.com/arduino-libraries/SpacebrewYun/index.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTwoPass(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine executable (default $"+EngineEnv+")")
	cmd.Flags().StringVar(&opts.Name, "name", "two_pass", "run name in reports and the ledger")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "library list passed to sync (required)")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "golden fixture directory (required)")
	cmd.Flags().StringArrayVar(&opts.Logs, "log", nil, "log path relative to the logs folder (repeatable)")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", 0, "relative archive size tolerance, 0 for exact sizes (default 0.03)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "snapshot ledger file (default in-memory)")
	cmd.Flags().StringVar(&opts.Report, "report", "", "write the JSON report to this file")
	cmd.Flags().BoolVar(&opts.Keep, "keep", false, "keep the sandbox for inspection")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("fixtures")

	return cmd
}

func runTwoPass(opts *TwoPassOptions, cmd *cobra.Command) error {
	if opts.Tolerance < 0 || opts.Tolerance >= 1 {
		return NewExitError(ExitCommandError, "--tolerance must be in [0, 1)")
	}
	manifest, err := filepath.Abs(opts.Manifest)
	if err != nil {
		return WrapExitError(ExitCommandError, "manifest", err)
	}
	fixtures, err := filepath.Abs(opts.Fixtures)
	if err != nil {
		return WrapExitError(ExitCommandError, "fixtures", err)
	}
	fsys := afero.NewOsFs()
	for _, p := range []string{manifest, fixtures} {
		if ok, _ := afero.Exists(fsys, p); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("not found: %s", p))
		}
	}

	runner, err := opts.engineRunner(opts.Engine)
	if err != nil {
		return err
	}
	h, err := harness.New(harness.Options{
		Runner:      runner,
		FS:          fsys,
		Ledger:      opts.Ledger,
		Logger:      opts.logger(cmd.ErrOrStderr()),
		KeepSandbox: opts.Keep,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create harness", err)
	}
	defer h.Close()

	tp := harness.TwoPass{
		Name:     opts.Name,
		Manifest: manifest,
		Fixtures: harness.FixturesIn(fixtures),
		Logs:     opts.Logs,
	}
	if cmd.Flags().Changed("tolerance") {
		tp.Tolerance = &opts.Tolerance
	}
	res, err := h.RunTwoPass(cmd.Context(), tp)
	if err != nil {
		return WrapExitError(ExitCommandError, "execution failed", err)
	}

	if opts.Report != "" {
		data, err := harness.Report(res)
		if err != nil {
			return err
		}
		if err := afero.WriteFile(fsys, opts.Report, data, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: res}
		if !res.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_TWOPASS_FAILED", Message: fmt.Sprintf("%s failed", res.Scenario)}
		}
		if err := out.JSON(resp); err != nil {
			return err
		}
	} else {
		out.Title(res.Scenario)
		for _, s := range res.Steps {
			out.Mark(s.Pass, fmt.Sprintf("%s (exit %d)", s.Name, s.ExitCode), s.Errors)
		}
	}

	if !res.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%s failed", res.Scenario))
	}
	return nil
}
