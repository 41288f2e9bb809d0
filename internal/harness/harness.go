package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/arduino/libraries-repository-engine/internal/engine"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/render"
	"github.com/arduino/libraries-repository-engine/internal/schema"
	"github.com/arduino/libraries-repository-engine/internal/store"
)

// Options configures a Harness.
type Options struct {
	// Runner starts the engine. Required.
	Runner engine.Runner

	// FS is where sandboxes live and fixtures are read. Defaults to the OS
	// filesystem; the engine process always sees the OS filesystem.
	FS afero.Fs

	// Ledger is the SQLite snapshot ledger path. Defaults to an in-memory
	// database discarded by Close.
	Ledger string

	// Logger receives progress at debug level. Defaults to discarding.
	Logger *slog.Logger

	// Tolerance is the default relative archive size tolerance.
	// Zero means normalize.DefaultSizeTolerance; a negative value compares
	// sizes exactly.
	Tolerance float64

	// Testdata is the fixture root exposed as ${testdata}.
	Testdata string

	// SandboxRoot is the parent of sandbox directories. Empty means the
	// system temp dir.
	SandboxRoot string

	// Sessions names ledger sessions, one per scenario run. Defaults to
	// random UUIDs.
	Sessions func() string

	// KeepSandbox leaves sandboxes on disk for inspection.
	KeepSandbox bool
}

// Harness runs scenarios against an engine.
type Harness struct {
	runner      engine.Runner
	fs          afero.Fs
	ledger      *store.Store
	schema      *schema.Validator
	logger      *slog.Logger
	tolerance   float64
	testdata    string
	sandboxRoot string
	sessions    func() string
	keep        bool
}

// New creates a harness and opens its ledger.
func New(opts Options) (*Harness, error) {
	if opts.Runner == nil {
		return nil, errors.New("harness: runner is required")
	}
	h := &Harness{
		runner:      opts.Runner,
		fs:          opts.FS,
		logger:      opts.Logger,
		tolerance:   opts.Tolerance,
		testdata:    opts.Testdata,
		sandboxRoot: opts.SandboxRoot,
		sessions:    opts.Sessions,
		keep:        opts.KeepSandbox,
	}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.tolerance == 0 {
		h.tolerance = normalize.DefaultSizeTolerance
	}
	if h.sessions == nil {
		h.sessions = uuid.NewString
	}
	if h.testdata != "" {
		abs, err := filepath.Abs(h.testdata)
		if err != nil {
			return nil, fmt.Errorf("harness: testdata: %w", err)
		}
		h.testdata = abs
	}

	// Open ledger (in-memory unless a path is given)
	ledgerPath := opts.Ledger
	if ledgerPath == "" {
		ledgerPath = ":memory:"
	}
	st, err := store.Open(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	h.ledger = st

	// Compile document schemas once for all scenarios
	sv, err := schema.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("harness: %w", err)
	}
	h.schema = sv
	return h, nil
}

// Close releases the ledger.
func (h *Harness) Close() error {
	return h.ledger.Close()
}

// Ledger exposes the snapshot ledger.
func (h *Harness) Ledger() *store.Store {
	return h.ledger
}

// scenarioRun is the state of one scenario execution.
type scenarioRun struct {
	h         *Harness
	scenario  *Scenario
	sandbox   *Sandbox
	values    render.Values
	session   string
	tolerance float64
	step      string
}

// Run executes a scenario in a fresh sandbox and returns the result.
//
// Failed expectations and checks are reported through the result. An error
// is returned only when the scenario could not be executed: the sandbox could
// not be created, the engine could not be started, or ctx was cancelled.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	sb, err := NewSandbox(h.fs, h.sandboxRoot, h.logger)
	if err != nil {
		return nil, err
	}
	if h.keep {
		h.logger.Info("keeping sandbox", "scenario", scenario.Name, "dir", sb.Dir)
	} else {
		defer sb.Close()
	}

	run := &scenarioRun{
		h:         h,
		scenario:  scenario,
		sandbox:   sb,
		values:    Values(sb.Config, sb.ConfigFile, sb.Dir, h.testdata, scenario.Values),
		session:   h.sessions(),
		tolerance: h.tolerance,
	}
	if t := scenario.Tolerance; t != nil {
		run.tolerance = *t
		if *t == 0 {
			// match.Options reads zero as the default.
			run.tolerance = -1
		}
	}

	// Execute steps in order; an unmet exit expectation ends the scenario
	h.logger.Debug("scenario started", "scenario", scenario.Name, "session", run.session)
	result := NewResult(scenario.Name)
	for _, step := range scenario.Steps {
		ok, err := run.execute(ctx, step, result)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: step %s: %w", scenario.Name, step.Name, err)
		}
		if !ok {
			break
		}
	}
	h.logger.Debug("scenario finished", "scenario", scenario.Name, "pass", result.Pass)
	return result, nil
}

// execute runs one step. It returns false when the scenario must stop.
func (r *scenarioRun) execute(ctx context.Context, step Step, result *Result) (bool, error) {
	r.step = step.Name

	// Substitute sandbox values into arguments
	args := make([]string, len(step.Args))
	for i, a := range step.Args {
		rendered, err := render.RenderString(a, r.values)
		if err != nil {
			result.Steps = append(result.Steps, StepResult{Name: step.Name, Args: step.Args, ExitCode: -1, Pass: true})
			r.fail(result, &AssertionError{Step: step.Name, Type: "args", Subject: a, Err: err})
			return false, nil
		}
		args[i] = rendered
	}

	// Invoke engine
	r.h.logger.Debug("running engine", "step", step.Name, "args", describeArgs(args))
	res, err := r.h.runner.Run(ctx, engine.Invocation{Args: args, Dir: r.sandbox.Dir})
	if err != nil {
		return false, err
	}

	result.Steps = append(result.Steps, StepResult{
		Name:     step.Name,
		Args:     r.templatizeAll(args),
		ExitCode: res.ExitCode,
		Pass:     true,
	})

	// Verify exit status and output before any artifact check
	if err := r.checkExit(step, args, res); err != nil {
		for _, e := range multierr.Errors(err) {
			r.fail(result, e)
		}
		return false, nil
	}

	// Run every check; failures accumulate
	for _, c := range step.Checks {
		rc, err := r.renderCheck(c)
		if err == nil {
			err = r.check(ctx, rc)
		}
		for _, e := range multierr.Errors(err) {
			r.fail(result, r.asAssertion(c.Type, e))
		}
	}
	return true, nil
}

// checkExit compares the engine exit with the step expectation.
func (r *scenarioRun) checkExit(step Step, args []string, res *engine.Result) error {
	expect := step.Expect
	if expect == nil {
		expect = &Expect{Status: StatusSuccess}
	}

	if expect.Status == StatusSuccess {
		if err := engine.Require(args, res); err != nil {
			return err
		}
		return r.checkOutput(expect, res)
	}

	if res.OK() {
		return &AssertionError{Step: r.step, Type: "exit", Expected: "failure", Actual: "exit status 0"}
	}
	var errs error
	if expect.Kind != "" {
		if got := engine.Classify(res); got != expect.Kind {
			errs = multierr.Append(errs, &AssertionError{
				Step:     r.step,
				Type:     "exit",
				Subject:  "kind",
				Expected: string(expect.Kind),
				Actual:   string(got),
			})
		}
	}
	return multierr.Append(errs, r.checkOutput(expect, res))
}

func (r *scenarioRun) checkOutput(expect *Expect, res *engine.Result) error {
	var errs error
	for _, stream := range []struct {
		name      string
		fragments []string
		output    string
	}{
		{"stderr", expect.Stderr, res.Stderr},
		{"stdout", expect.Stdout, res.Stdout},
	} {
		for _, frag := range stream.fragments {
			want, err := render.RenderString(frag, r.values)
			if err != nil {
				errs = multierr.Append(errs, &AssertionError{Step: r.step, Type: stream.name, Subject: frag, Err: err})
				continue
			}
			if !strings.Contains(stream.output, want) {
				errs = multierr.Append(errs, &AssertionError{
					Step:     r.step,
					Type:     stream.name,
					Expected: fmt.Sprintf("output containing %q", want),
					Actual:   fmt.Sprintf("%q", strings.TrimSpace(stream.output)),
				})
			}
		}
	}
	return errs
}

// renderCheck renders every template field of c.
func (r *scenarioRun) renderCheck(c Check) (Check, error) {
	var err error
	renderField := func(s string) string {
		if err != nil || s == "" {
			return s
		}
		var out string
		out, err = render.RenderString(s, r.values)
		return out
	}

	out := c
	out.Golden = renderField(c.Golden)
	out.Log = renderField(c.Log)
	out.Path = renderField(c.Path)
	out.Library = renderField(c.Library)
	out.Version = renderField(c.Version)
	out.Value = renderField(c.Value)
	out.Types = make([]string, len(c.Types))
	for i, t := range c.Types {
		out.Types[i] = renderField(t)
	}
	return out, err
}

// fail records err with sandbox paths replaced by their placeholders so
// reports are stable across machines.
func (r *scenarioRun) fail(result *Result, err error) {
	result.addError(err, r.templatize(err.Error()))
}

func (r *scenarioRun) asAssertion(checkType string, err error) error {
	var ae *AssertionError
	if errors.As(err, &ae) {
		if ae.Step == "" {
			ae.Step = r.step
		}
		return err
	}
	return &AssertionError{Step: r.step, Type: checkType, Err: err}
}

func (r *scenarioRun) templatize(s string) string {
	return string(render.Templatize([]byte(s), r.portableValues()))
}

func (r *scenarioRun) templatizeAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.templatize(a)
	}
	return out
}

// portableValues are the values that differ between machines.
func (r *scenarioRun) portableValues() render.Values {
	return render.Values{
		ValueWorkingDir: r.values[ValueWorkingDir],
		ValueTestdata:   r.values[ValueTestdata],
	}
}
