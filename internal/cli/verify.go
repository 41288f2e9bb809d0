package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arduino/libraries-repository-engine/internal/harness"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Engine    string   // engine executable
	Parallel  int      // scenarios run at once
	Filter    string   // scenario name glob
	Tags      []string // run only scenarios carrying one of these tags
	Skip      []string // skip scenarios carrying one of these tags
	Testdata  string   // fixture root exposed as ${testdata}
	Ledger    string   // snapshot ledger path
	Reports   string   // directory for per-scenario JSON reports
	Tolerance float64  // 0 with the flag given compares sizes exactly
	Keep      bool
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <scenario-file|scenario-dir>...",
		Short: "Run verification scenarios against the engine",
		Long: `Run scenario files against the engine, each in a fresh sandbox.

Directories are searched for *.yaml scenarios. ${testdata} defaults to the
parent of the first scenario directory.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, engine missing, etc.)

Examples:
  engine-verify verify --engine ./libraries-repository-engine testdata/scenarios
  engine-verify verify testdata/scenarios --filter "modify_*"
  engine-verify verify testdata/scenarios --skip golden --parallel 4
  engine-verify verify testdata/scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Engine, "engine", "", "engine executable (default $"+EngineEnv+")")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "scenarios to run at once")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name glob")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "run only scenarios with one of these tags")
	cmd.Flags().StringSliceVar(&opts.Skip, "skip", nil, "skip scenarios with one of these tags")
	cmd.Flags().StringVar(&opts.Testdata, "testdata", "", "fixture root exposed as ${testdata}")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "snapshot ledger file (default in-memory)")
	cmd.Flags().StringVar(&opts.Reports, "reports", "", "write a JSON report per scenario to this directory")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", 0, "relative archive size tolerance, 0 for exact sizes (default 0.03)")
	cmd.Flags().BoolVar(&opts.Keep, "keep", false, "keep sandboxes for inspection")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, paths []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}
	if opts.Tolerance < 0 || opts.Tolerance >= 1 {
		return NewExitError(ExitCommandError, "--tolerance must be in [0, 1)")
	}
	tolerance := opts.Tolerance
	if cmd.Flags().Changed("tolerance") && tolerance == 0 {
		// Negative asks the harness for exact sizes.
		tolerance = -1
	}

	scenarios, testdata, err := loadScenarios(paths)
	if err != nil {
		return err
	}
	if opts.Testdata != "" {
		testdata = opts.Testdata
	}
	scenarios, err = selectScenarios(scenarios, opts.Filter, opts.Tags, opts.Skip)
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	if len(scenarios) == 0 {
		if opts.Format == "json" {
			return out.Success(VerifyResult{Scenarios: []ScenarioResult{}})
		}
		out.Note("No scenarios found.")
		return nil
	}

	runner, err := opts.engineRunner(opts.Engine)
	if err != nil {
		return err
	}
	h, err := harness.New(harness.Options{
		Runner:      runner,
		Ledger:      opts.Ledger,
		Logger:      opts.logger(cmd.ErrOrStderr()),
		Tolerance:   tolerance,
		Testdata:    testdata,
		KeepSandbox: opts.Keep,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create harness", err)
	}
	defer h.Close()

	// Run scenarios, at most --parallel at once; results keep input order
	results := make([]*harness.Result, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			out.VerboseLog("running %s", sc.Name)
			res, err := h.Run(gctx, sc)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "execution failed", err)
	}

	// Write per-scenario reports
	if opts.Reports != "" {
		if err := writeReports(opts.Reports, results); err != nil {
			return err
		}
	}

	// Summarize
	summary := VerifyResult{Scenarios: make([]ScenarioResult, 0, len(results)), Total: len(results)}
	for _, res := range results {
		summary.Scenarios = append(summary.Scenarios, ScenarioResult{Name: res.Scenario, Pass: res.Pass, Errors: res.Errors})
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	return outputVerify(out, summary)
}

// loadScenarios reads scenario files and directories. The second result is
// the default fixture root.
func loadScenarios(paths []string) ([]*harness.Scenario, string, error) {
	var (
		scenarios []*harness.Scenario
		testdata  string
		seen      = map[string]string{}
	)
	add := func(sc *harness.Scenario, from string) error {
		if prev, ok := seen[sc.Name]; ok {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("scenario %q defined in both %s and %s", sc.Name, prev, from))
		}
		seen[sc.Name] = from
		scenarios = append(scenarios, sc)
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "scenario path", err)
		}
		if !info.IsDir() {
			sc, err := harness.LoadScenario(p)
			if err != nil {
				return nil, "", WrapExitError(ExitCommandError, "failed to load scenario", err)
			}
			if err := add(sc, p); err != nil {
				return nil, "", err
			}
			continue
		}

		if testdata == "" {
			testdata = filepath.Dir(filepath.Clean(p))
		}
		loaded, err := harness.LoadScenarios(p)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "failed to load scenarios", err)
		}
		for _, sc := range loaded {
			if err := add(sc, p); err != nil {
				return nil, "", err
			}
		}
	}
	if testdata == "" && len(paths) > 0 {
		testdata = filepath.Dir(filepath.Dir(filepath.Clean(paths[0])))
	}
	return scenarios, testdata, nil
}

// selectScenarios applies the name glob, then the tag filters.
func selectScenarios(all []*harness.Scenario, filter string, tags, skip []string) ([]*harness.Scenario, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	var out []*harness.Scenario
	for _, sc := range all {
		if filter != "" {
			if ok, _ := filepath.Match(filter, sc.Name); !ok {
				continue
			}
		}
		if len(tags) > 0 && !hasAnyTag(sc, tags) {
			continue
		}
		if hasAnyTag(sc, skip) {
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}

func hasAnyTag(sc *harness.Scenario, tags []string) bool {
	for _, t := range tags {
		if sc.HasTag(t) {
			return true
		}
	}
	return false
}

func writeReports(dir string, results []*harness.Result) error {
	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create reports directory", err)
	}
	for _, res := range results {
		data, err := harness.Report(res)
		if err != nil {
			return fmt.Errorf("report %s: %w", res.Scenario, err)
		}
		p := filepath.Join(dir, res.Scenario+".json")
		if err := afero.WriteFile(fsys, p, data, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
	}
	return nil
}

func outputVerify(out *OutputFormatter, result VerifyResult) error {
	if out.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_VERIFY_FAILED",
				Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
			}
		}
		if err := out.JSON(resp); err != nil {
			return err
		}
	} else {
		for _, sc := range result.Scenarios {
			out.Mark(sc.Pass, sc.Name, sc.Errors)
		}
		out.Note("%d passed, %d failed, %d total", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
