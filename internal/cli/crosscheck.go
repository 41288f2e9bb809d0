package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/arduino/libraries-repository-engine/internal/config"
	"github.com/arduino/libraries-repository-engine/internal/crosscheck"
	"github.com/arduino/libraries-repository-engine/internal/libdb"
	"github.com/arduino/libraries-repository-engine/internal/schema"
)

// CrosscheckOptions holds flags for the crosscheck command.
type CrosscheckOptions struct {
	*RootOptions
	Config string
	Scan   bool
}

// CheckResult is the outcome of one group of checks.
type CheckResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// NewCrosscheckCommand creates the crosscheck command.
func NewCrosscheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CrosscheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "crosscheck",
		Short: "Check an existing engine output tree",
		Long: `Check the database, the index and the archives of an engine output tree
described by an engine configuration file:

  schema     - both documents have the expected shape
  integrity  - no duplicates, every release and index entry has a library
  archives   - every recorded URL resolves to an archive of the recorded
               size and checksum
  payload    - no archive contains forbidden files (with --scan)

Example:
  engine-verify crosscheck --config /srv/engine/config.json --scan`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrosscheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "engine configuration file (required)")
	cmd.Flags().BoolVar(&opts.Scan, "scan", false, "scan archive contents for forbidden files")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runCrosscheck(opts *CrosscheckOptions, cmd *cobra.Command) error {
	fsys := afero.NewOsFs()
	cfg, err := config.Load(fsys, opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := opts.logger(cmd.ErrOrStderr())

	results, err := crosscheckTree(fsys, cfg, opts.Scan)
	if err != nil {
		return err
	}
	logger.Debug("crosscheck finished", "config", opts.Config, "groups", len(results))

	failed := 0
	for _, r := range results {
		if !r.Pass {
			failed++
		}
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: results}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_CROSSCHECK_FAILED", Message: fmt.Sprintf("%d check(s) failed", failed)}
		}
		if err := out.JSON(resp); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			out.Mark(r.Pass, r.Name, r.Errors)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d check(s) failed", failed))
	}
	return nil
}

// crosscheckTree runs every check group. Unreadable documents are command
// errors; everything else is reported per group.
func crosscheckTree(fsys afero.Fs, cfg *config.Engine, scan bool) ([]CheckResult, error) {
	dbData, err := afero.ReadFile(fsys, cfg.LibrariesDB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read database", err)
	}
	idxData, err := afero.ReadFile(fsys, cfg.LibrariesIndex)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read index", err)
	}
	db, err := libdb.ParseDB(dbData)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to parse database", err)
	}
	idx, err := libdb.ParseIndex(idxData)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to parse index", err)
	}

	sv, err := schema.New()
	if err != nil {
		return nil, err
	}
	v := &crosscheck.Validator{FS: fsys, BaseURL: cfg.BaseDownloadUrl, ArchiveRoot: cfg.LibrariesFolder}

	results := []CheckResult{
		group("schema", multierr.Combine(
			sv.ValidateDB(cfg.LibrariesDB, dbData),
			sv.ValidateIndex(cfg.LibrariesIndex, idxData),
		)),
		group("integrity", multierr.Combine(db.CheckIntegrity(), idx.CheckIntegrity())),
		group("archives", v.CheckBoth(db, idx)),
	}
	if scan {
		entries, err := crosscheck.EntriesFromDB(db)
		if err != nil {
			results = append(results, group("payload", err))
		} else {
			results = append(results, group("payload", v.ScanAll(crosscheck.SourceDB, entries, crosscheck.DefaultRules)))
		}
	}
	return results, nil
}

func group(name string, err error) CheckResult {
	r := CheckResult{Name: name, Pass: err == nil}
	for _, e := range multierr.Errors(err) {
		r.Errors = append(r.Errors, e.Error())
	}
	return r
}
