package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
)

// Invocation is one engine command line.
type Invocation struct {
	// Args excludes the executable itself.
	Args []string
	// Dir is the process working directory; empty means inherit.
	Dir string
	// Env is merged over the harness environment.
	Env map[string]string
}

// Result is the observable outcome of an engine process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the engine exited successfully.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Runner starts the engine and waits for it to exit.
//
// A non-zero exit status is not an error: it is reported through
// Result.ExitCode so callers can assert on expected failures. Run returns an
// error only when the process could not be started or waited on.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ProcessRunner runs the engine as a host process.
type ProcessRunner struct {
	Executable string
}

// Run executes the engine synchronously.
func (p ProcessRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if p.Executable == "" {
		return nil, errors.New("engine executable not set")
	}

	// #nosec G204 -- the executable and arguments come from the scenario under test.
	cmd := exec.CommandContext(ctx, p.Executable, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) != 0 {
		keys := make([]string, 0, len(inv.Env))
		for k := range inv.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		merged := cmd.Environ()
		for _, k := range keys {
			merged = append(merged, fmt.Sprintf("%s=%s", k, inv.Env[k]))
		}
		cmd.Env = merged
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("run %s %q: %w", p.Executable, inv.Args, err)
	}
	return res, nil
}

// Sync builds the sync invocation.
func Sync(configFile, manifest string) []string {
	return []string{"sync", "--config-file", configFile, manifest}
}

// Modify builds a modify invocation; flags go before the library name.
func Modify(configFile string, flags []string, library string) []string {
	args := []string{"modify", "--config-file", configFile}
	args = append(args, flags...)
	return append(args, library)
}

// Remove builds a remove invocation.
func Remove(configFile string, refs ...string) []string {
	args := []string{"remove", "--config-file", configFile}
	return append(args, refs...)
}
