package harness

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/arduino/libraries-repository-engine/internal/canon"
	"github.com/arduino/libraries-repository-engine/internal/libdb"
	"github.com/arduino/libraries-repository-engine/internal/match"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/render"
)

// renderFixture reads a fixture template and renders it with the sandbox
// values. JSON fixtures get JSON-escaped values.
func (r *scenarioRun) renderFixture(path string, jsonDoc bool) ([]byte, error) {
	tmpl, err := afero.ReadFile(r.h.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var opts []render.Option
	if jsonDoc {
		opts = append(opts, render.WithEscaper(render.JSONString))
	}
	out, err := render.Render(tmpl, r.values, opts...)
	if err != nil {
		return nil, fmt.Errorf("render fixture %s: %w", path, err)
	}
	return out, nil
}

func (r *scenarioRun) matchOptions() match.Options {
	return match.Options{Tolerance: r.tolerance}
}

// goldenDB compares the database with a fixture, libraries by name and
// releases by library name and version.
func (r *scenarioRun) goldenDB(c Check) error {
	data, err := r.renderFixture(c.Golden, true)
	if err != nil {
		return err
	}
	expected, err := libdb.ParseDB(data)
	if err != nil {
		return fmt.Errorf("fixture %s: %w", c.Golden, err)
	}
	actual, err := r.db()
	if err != nil {
		return err
	}
	return multierr.Combine(
		match.Records(normalize.DBLibrary, actual.LibraryRecords(), expected.LibraryRecords(), r.matchOptions(), "Name"),
		match.Records(normalize.DBRelease, actual.ReleaseRecords(), expected.ReleaseRecords(), r.matchOptions(), "LibraryName", "Version"),
	)
}

// goldenIndex compares the index with a fixture, entries keyed by name and
// version.
func (r *scenarioRun) goldenIndex(c Check) error {
	data, err := r.renderFixture(c.Golden, true)
	if err != nil {
		return err
	}
	expected, err := libdb.ParseIndex(data)
	if err != nil {
		return fmt.Errorf("fixture %s: %w", c.Golden, err)
	}
	actual, err := r.index()
	if err != nil {
		return err
	}
	return match.Records(normalize.IndexEntry, actual.Records(), expected.Records(), r.matchOptions(), "name", "version")
}

// goldenLog compares one repository log with its fixture after trimming
// trailing space and redacting timestamps on both sides.
func (r *scenarioRun) goldenLog(c Check) error {
	rel := filepath.FromSlash(c.Log)
	data, err := r.renderFixture(filepath.Join(c.Golden, rel), false)
	if err != nil {
		return err
	}
	actual, err := afero.ReadFile(r.h.fs, filepath.Join(r.sandbox.Config.LogsFolder, rel))
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	want := normalize.Text(string(data))
	got := normalize.Text(string(actual))
	if want == got {
		return nil
	}
	line, w, g := firstDifference(want, got)
	return &AssertionError{
		Step:     r.step,
		Type:     c.Type,
		Subject:  fmt.Sprintf("%s line %d", c.Log, line),
		Expected: fmt.Sprintf("%q", w),
		Actual:   fmt.Sprintf("%q", g),
	}
}

// firstDifference returns the 1-based number of the first differing line
// and both versions of it. A missing line is reported as "<end of file>".
func firstDifference(want, got string) (int, string, string) {
	wl := strings.Split(want, "\n")
	gl := strings.Split(got, "\n")
	for i := 0; ; i++ {
		w, g := "<end of file>", "<end of file>"
		if i < len(wl) {
			w = wl[i]
		}
		if i < len(gl) {
			g = gl[i]
		}
		if w != g || (i >= len(wl) && i >= len(gl)) {
			return i + 1, w, g
		}
	}
}

// Report renders a result as canonical JSON. Paths inside the sandbox and
// the fixture root are already replaced by placeholders, so reports are
// stable across machines.
func Report(result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, s := range result.Steps {
		step := map[string]any{
			"name":      s.Name,
			"args":      s.Args,
			"exit_code": s.ExitCode,
			"pass":      s.Pass,
		}
		if len(s.Errors) > 0 {
			step["errors"] = s.Errors
		}
		steps[i] = step
	}
	return canon.Marshal(map[string]any{
		"scenario": result.Scenario,
		"pass":     result.Pass,
		"steps":    steps,
	})
}

// AssertGolden compares the report of result against a golden file.
// The golden file is stored in testdata/reports/{name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	report, err := Report(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/reports"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, report)

	return nil
}
