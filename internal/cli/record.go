package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/arduino/libraries-repository-engine/internal/config"
	"github.com/arduino/libraries-repository-engine/internal/harness"
	"github.com/arduino/libraries-repository-engine/internal/render"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Config     string
	WorkingDir string
	Out        string
	Pass       string
	Logs       []string
	Set        []string
	Force      bool
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record golden fixtures from an engine output tree",
		Long: `Write the database, the index and selected logs of an engine output tree
as golden fixtures. Configured folders and the download URL become ${name}
placeholders and checksums become ${checksum_placeholder}, so the fixtures
render back for any sandbox.

Example:
  engine-verify record --config /tmp/run/config.json --out testdata/golden/sync \
    --pass generate --log github.com/arduino-libraries/SpacebrewYun/index.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "engine configuration file (required)")
	cmd.Flags().StringVar(&opts.WorkingDir, "working-dir", "", "directory exposed as ${working_dir} (default: the config file's directory)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "fixture directory (required)")
	cmd.Flags().StringVar(&opts.Pass, "pass", harness.PassGenerate, "log set to write (generate|update)")
	cmd.Flags().StringArrayVar(&opts.Logs, "log", nil, "log path relative to the logs folder (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "extra value to templatize as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing fixtures")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	extra, err := parseValues(opts.Set)
	if err != nil {
		return err
	}
	fsys := afero.NewOsFs()
	cfg, err := config.Load(fsys, opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = filepath.Dir(opts.Config)
	}
	if workingDir, err = filepath.Abs(workingDir); err != nil {
		return WrapExitError(ExitCommandError, "working dir", err)
	}

	written, err := harness.RecordFixtures(fsys, harness.Recording{
		Config: cfg,
		Values: harness.Values(cfg, opts.Config, workingDir, "", extra),
		Out:    opts.Out,
		Pass:   opts.Pass,
		Logs:   opts.Logs,
		Force:  opts.Force,
	})
	if errors.Is(err, harness.ErrFixtureExists) {
		return WrapExitError(ExitCommandError, "refusing to overwrite (use --force)", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "record failed", err)
	}
	opts.logger(cmd.ErrOrStderr()).Debug("fixtures recorded", "out", opts.Out, "files", len(written))

	// Report which sandbox values each fixture depends on.
	placeholders := make(map[string][]string, len(written))
	for _, p := range written {
		data, err := afero.ReadFile(fsys, p)
		if err != nil {
			return WrapExitError(ExitCommandError, "read recorded fixture", err)
		}
		names, err := render.Placeholders(data)
		if err != nil {
			return WrapExitError(ExitCommandError, "recorded fixture "+p, err)
		}
		placeholders[p] = names
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(map[string]any{"written": written, "placeholders": placeholders})
	}
	for _, p := range written {
		if names := placeholders[p]; len(names) > 0 {
			fmt.Fprintf(out.Writer, "%s\t%s\n", p, strings.Join(names, ", "))
			continue
		}
		fmt.Fprintln(out.Writer, p)
	}
	return nil
}
