package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arduino/libraries-repository-engine/internal/engine"
	"github.com/arduino/libraries-repository-engine/internal/match"
	"github.com/arduino/libraries-repository-engine/internal/normalize"
	"github.com/arduino/libraries-repository-engine/internal/testutil"
)

type testEnv struct {
	h           *Harness
	fake        *testutil.FakeEngine
	sandboxRoot string
}

func newTestHarness(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	fake := testutil.NewFakeEngine(afero.NewOsFs())
	root := t.TempDir()
	o := Options{
		Runner:      fake,
		Testdata:    "testdata",
		SandboxRoot: root,
		Sessions:    testutil.NewSequentialSessions("test").Generate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return &testEnv{h: h, fake: fake, sandboxRoot: root}
}

func testdataPath(t *testing.T, rel string) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("testdata", filepath.FromSlash(rel)))
	require.NoError(t, err)
	return p
}

func syncStep(name, manifest string, checks ...Check) Step {
	return Step{
		Name:   name,
		Args:   []string{"sync", "--config-file", "${config_file}", "${testdata}/repos/" + manifest},
		Checks: checks,
	}
}

func requirePass(t *testing.T, res *Result) {
	t.Helper()
	require.True(t, res.Pass, strings.Join(res.Errors, "\n"))
}

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			t.Parallel()
			env := newTestHarness(t)
			res, err := env.h.Run(context.Background(), sc)
			require.NoError(t, err)
			requirePass(t, res)
			assert.Len(t, res.Steps, len(sc.Steps))
		})
	}
}

func TestRunTwoPass(t *testing.T) {
	env := newTestHarness(t)

	res, err := env.h.RunTwoPass(context.Background(), TwoPass{
		Name:     "sync_two_pass",
		Manifest: testdataPath(t, "repos/sync.txt"),
		Fixtures: FixturesIn(testdataPath(t, "golden/sync")),
		Logs:     []string{"github.com/arduino-libraries/SpacebrewYun/index.html"},
	})
	require.NoError(t, err)
	requirePass(t, res)
	require.NoError(t, AssertGolden(t, "sync_two_pass", res))

	calls := env.fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Args, calls[1].Args)
	assert.Equal(t, calls[0].Dir, calls[1].Dir, "both passes share the working directory")
}

func TestRunTwoPassRecordsBothPasses(t *testing.T) {
	ledger := filepath.Join(t.TempDir(), "ledger.db")
	env := newTestHarness(t, func(o *Options) { o.Ledger = ledger })

	res, err := env.h.RunTwoPass(context.Background(), TwoPass{
		Name:     "sync_two_pass",
		Manifest: testdataPath(t, "repos/sync.txt"),
		Fixtures: FixturesIn(testdataPath(t, "golden/sync")),
	})
	require.NoError(t, err)
	requirePass(t, res)

	runs, err := env.h.Ledger().ListRuns(context.Background(), "sync_two_pass")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, PassGenerate, runs[0].Label)
	assert.Equal(t, PassUpdate, runs[1].Label)
	assert.Equal(t, "test-1", runs[0].Session)
	assert.Equal(t, 4, runs[0].Records["releases"])
}

func TestRunTwoPassSizeDriftOutsideTolerance(t *testing.T) {
	fixtures := t.TempDir()
	data, err := os.ReadFile(testdataPath(t, "golden/sync/db.json"))
	require.NoError(t, err)
	drifted := strings.Replace(string(data), `"Size": 430`, `"Size": 500`, 1)
	require.NotEqual(t, string(data), drifted)
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "db.json"), []byte(drifted), 0o644))

	env := newTestHarness(t)
	res, err := env.h.RunTwoPass(context.Background(), TwoPass{
		Manifest: testdataPath(t, "repos/sync.txt"),
		Fixtures: Fixtures{
			Generate: FixtureSet{DB: filepath.Join(fixtures, "db.json"), Index: testdataPath(t, "golden/sync/library_index.json")},
			Update:   FixtureSet{DB: filepath.Join(fixtures, "db.json"), Index: testdataPath(t, "golden/sync/library_index.json")},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Pass)

	var tolErr *normalize.ToleranceError
	require.ErrorAs(t, res.Err(), &tolErr)
	assert.Equal(t, int64(434), tolErr.Actual)
	assert.Equal(t, int64(500), tolErr.Expected)

	// Both passes ran and both reported the drift.
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[0].Pass)
	assert.False(t, res.Steps[1].Pass)
}

func TestRunTwoPassWiderTolerance(t *testing.T) {
	fixtures := t.TempDir()
	data, err := os.ReadFile(testdataPath(t, "golden/sync/db.json"))
	require.NoError(t, err)
	drifted := strings.Replace(string(data), `"Size": 430`, `"Size": 460`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "db.json"), []byte(drifted), 0o644))
	set := FixtureSet{DB: filepath.Join(fixtures, "db.json"), Index: testdataPath(t, "golden/sync/library_index.json")}

	env := newTestHarness(t)
	res, err := env.h.RunTwoPass(context.Background(), TwoPass{
		Manifest:  testdataPath(t, "repos/sync.txt"),
		Fixtures:  Fixtures{Generate: set, Update: set},
		Tolerance: ptr(0.1),
	})
	require.NoError(t, err)
	requirePass(t, res)
}

func TestRunTwoPassExactSizes(t *testing.T) {
	fixtures := t.TempDir()
	data, err := os.ReadFile(testdataPath(t, "golden/sync/db.json"))
	require.NoError(t, err)
	// One byte off is inside the default tolerance.
	drifted := strings.Replace(string(data), `"Size": 430`, `"Size": 431`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "db.json"), []byte(drifted), 0o644))
	set := FixtureSet{DB: filepath.Join(fixtures, "db.json"), Index: testdataPath(t, "golden/sync/library_index.json")}
	tp := TwoPass{
		Manifest: testdataPath(t, "repos/sync.txt"),
		Fixtures: Fixtures{Generate: set, Update: set},
	}

	env := newTestHarness(t)
	res, err := env.h.RunTwoPass(context.Background(), tp)
	require.NoError(t, err)
	requirePass(t, res)

	tp.Tolerance = ptr(0.0)
	res, err = env.h.RunTwoPass(context.Background(), tp)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "is not within 0.0% of expected 431")
}

func ptr[T any](v T) *T { return &v }

func TestRunStopsOnUnexpectedFailure(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "missing_manifest",
		Description: "sync of a missing manifest",
		Steps: []Step{
			syncStep("generate", "does-not-exist.txt"),
			syncStep("update", "sync.txt"),
		},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Steps, 1, "no step runs after an unexpected failure")
	assert.Equal(t, 1, res.Steps[0].ExitCode)

	var exitErr *engine.ProcessExitError
	require.ErrorAs(t, res.Err(), &exitErr)
	assert.Len(t, env.fake.Calls(), 1)
}

func TestRunExpectedFailureSucceeded(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "unexpected_success",
		Description: "help never fails",
		Steps: []Step{{
			Name:   "help",
			Args:   []string{"help"},
			Expect: &Expect{Status: StatusFailure},
		}},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	var ae *AssertionError
	require.ErrorAs(t, res.Err(), &ae)
	assert.Equal(t, "exit", ae.Type)
	assert.Equal(t, "failure", ae.Expected)
}

func TestRunKindAndOutputMismatch(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "kind_mismatch",
		Description: "an argument error declared as a domain error",
		Steps: []Step{{
			Name: "bad flag",
			Args: []string{"modify", "--some-bad-flag", "SpacebrewYun"},
			Expect: &Expect{
				Status: StatusFailure,
				Kind:   engine.KindDomain,
				Stderr: []string{"not found"},
			},
		}},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "bad flag: exit kind: expected domain, actual argument")
	assert.Contains(t, res.Errors[1], `output containing "not found"`)
}

func TestRunUnresolvedArgument(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "unresolved",
		Description: "an argument names an unknown value",
		Steps: []Step{{Name: "sync", Args: []string{"sync", "${nope}"}}},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Empty(t, env.fake.Calls(), "the engine is not started with unrendered arguments")
}

func TestRunFailingChecksAreAllReported(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "failing",
		Description: "checks that cannot hold",
		Steps: []Step{syncStep("sync", "sync.txt",
			Check{Type: CheckReleasePresent, Library: "SpacebrewYun", Version: "9.9.9"},
			Check{Type: CheckLibraryAbsent, Library: "ArduinoCloudThing"},
			Check{Type: CheckPathExists, Path: "gitclones/github.com/arduino-libraries/Missing"},
		)},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Len(t, res.Errors, 4)
	require.NoError(t, AssertGolden(t, "failing", res))
}

func TestUnchangedDetectsCanaryChange(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "canary_changed",
		Description: "the canary itself is modified",
		Steps: []Step{
			syncStep("sync", "modify.txt", Check{Type: CheckSnapshot, Label: "before"}),
			{
				Name: "retype canary",
				Args: []string{"modify", "--config-file", "${config_file}", "--types", "Contributed", "ArduinoIoTCloudBearSSL"},
				Checks: []Check{
					{Type: CheckUnchanged, Library: "ArduinoIoTCloudBearSSL", Label: "before"},
					{Type: CheckUnchanged, Library: "SpacebrewYun", Label: "before"},
				},
			},
		},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	// The library record and both release records changed.
	require.Len(t, res.Errors, 3)
	for _, msg := range res.Errors {
		assert.Contains(t, msg, "ArduinoIoTCloudBearSSL")
	}
}

func TestUnchangedDetectsRemovedArchive(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "canary_removed",
		Description: "a canary release disappears",
		Steps: []Step{
			syncStep("sync", "remove.txt", Check{Type: CheckSnapshot, Label: "before"}),
			{
				Name:   "remove",
				Args:   []string{"remove", "--config-file", "${config_file}", "ArduinoCloudThing@1.3.1"},
				Checks: []Check{{Type: CheckUnchanged, Library: "ArduinoCloudThing", Label: "before"}},
			},
		},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, "releases ArduinoCloudThing@1.3.1: expected present, actual absent")
	assert.Contains(t, joined, "index ArduinoCloudThing@1.3.1: expected present, actual absent")
	assert.Contains(t, joined, "libraries/github.com/arduino-libraries/ArduinoCloudThing-1.3.1.zip: expected present, actual absent")
}

func TestIdempotentDetectsDrift(t *testing.T) {
	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "drift",
		Description: "a release vanishes between two snapshots",
		Steps: []Step{
			syncStep("sync", "sync.txt", Check{Type: CheckSnapshot, Label: "a"}),
			{
				Name: "remove",
				Args: []string{"remove", "--config-file", "${config_file}", "SpacebrewYun@1.0.1"},
				Checks: []Check{
					{Type: CheckSnapshot, Label: "b"},
					{Type: CheckIdempotent, Labels: []string{"a", "b"}},
				},
			},
		},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	var card *match.CardinalityError
	require.ErrorAs(t, res.Err(), &card)
}

func TestGoldenLogMismatch(t *testing.T) {
	logs := t.TempDir()
	rel := filepath.Join("github.com", "arduino-libraries", "SpacebrewYun", "index.html")
	data, err := os.ReadFile(filepath.Join(testdataPath(t, "golden/sync/logs/generate"), rel))
	require.NoError(t, err)
	changed := strings.Replace(string(data), "Release 1.0.1 added", "Release 1.0.1 skipped", 1)
	require.NoError(t, os.MkdirAll(filepath.Join(logs, filepath.Dir(rel)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logs, rel), []byte(changed), 0o644))

	env := newTestHarness(t)
	sc := &Scenario{
		Name:        "log_mismatch",
		Description: "a log line differs",
		Steps: []Step{syncStep("sync", "sync.txt", Check{
			Type:   CheckGoldenLog,
			Golden: logs,
			Log:    "github.com/arduino-libraries/SpacebrewYun/index.html",
		})},
	}

	res, err := env.h.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	var ae *AssertionError
	require.ErrorAs(t, res.Err(), &ae)
	assert.Equal(t, "github.com/arduino-libraries/SpacebrewYun/index.html line 7", ae.Subject)
	assert.Equal(t, `"TIMESTAMP_PLACEHOLDER Release 1.0.1 skipped"`, ae.Expected)
	assert.Equal(t, `"TIMESTAMP_PLACEHOLDER Release 1.0.1 added"`, ae.Actual)
}

func TestSandboxIsRemoved(t *testing.T) {
	env := newTestHarness(t)
	res, err := env.h.Run(context.Background(), &Scenario{
		Name:        "cleanup",
		Description: "sandbox cleanup",
		Steps:       []Step{syncStep("sync", "sync.txt")},
	})
	require.NoError(t, err)
	requirePass(t, res)

	entries, err := os.ReadDir(env.sandboxRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestKeepSandbox(t *testing.T) {
	env := newTestHarness(t, func(o *Options) { o.KeepSandbox = true })
	_, err := env.h.Run(context.Background(), &Scenario{
		Name:        "keep",
		Description: "sandbox kept",
		Steps:       []Step{syncStep("sync", "sync.txt")},
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(env.sandboxRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "engine-verify-"))
	_, err = os.Stat(filepath.Join(env.sandboxRoot, entries[0].Name(), "db.json"))
	assert.NoError(t, err)
}

func TestRunCancelled(t *testing.T) {
	env := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.h.Run(ctx, &Scenario{
		Name:        "cancelled",
		Description: "cancelled before the engine starts",
		Steps:       []Step{syncStep("sync", "sync.txt")},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestFixturesIn(t *testing.T) {
	f := FixturesIn("golden")
	assert.Equal(t, filepath.Join("golden", "db.json"), f.Generate.DB)
	assert.Equal(t, f.Generate.DB, f.Update.DB)
	assert.Equal(t, f.Generate.Index, f.Update.Index)
	assert.Equal(t, filepath.Join("golden", "logs", "generate"), f.Generate.Logs)
	assert.Equal(t, filepath.Join("golden", "logs", "update"), f.Update.Logs)
}

func TestTwoPassScenarioEscapesPaths(t *testing.T) {
	sc := TwoPass{Manifest: "/tmp/$HOME/repos.txt", Fixtures: FixturesIn("/golden")}.Scenario()
	require.NoError(t, validateScenario(sc))
	assert.Equal(t, "two_pass", sc.Name)
	assert.Equal(t, "/tmp/$$HOME/repos.txt", sc.Steps[0].Args[3])
	last := sc.Steps[1].Checks[len(sc.Steps[1].Checks)-1]
	assert.Equal(t, CheckIdempotent, last.Type)
}
