package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	syncManifest = "../harness/testdata/repos/sync.txt"
	syncFixtures = "../harness/testdata/golden/sync"
	spacebrewLog = "github.com/arduino-libraries/SpacebrewYun/index.html"
)

func TestVerifyScenarioDirectory(t *testing.T) {
	run := execute(t, "verify", "--parallel", "3", scenariosDir)
	require.NoError(t, run.err, run.stdout)

	for _, name := range []string{"clean_checkout", "modify_errors", "modify_repo_url", "modify_types", "remove", "remove_errors", "sync"} {
		assert.Contains(t, run.stdout, "\u2713 "+name+"\n")
	}
	assert.Contains(t, run.stdout, "7 passed, 0 failed, 7 total")
}

func TestVerifyFilterAndTags(t *testing.T) {
	tests := []struct {
		name  string
		flags []string
		want  []string
	}{
		{"glob", []string{"--filter", "modify_*"}, []string{"modify_errors", "modify_repo_url", "modify_types"}},
		{"tag", []string{"--tag", "golden"}, []string{"sync"}},
		{"skip", []string{"--skip", "golden", "--filter", "s*"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"verify", "--format", "json"}, tt.flags...)
			run := execute(t, append(args, scenariosDir)...)
			require.NoError(t, run.err)

			var resp struct {
				Status string       `json:"status"`
				Data   VerifyResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(run.stdout), &resp))
			assert.Equal(t, "ok", resp.Status)

			var names []string
			for _, sc := range resp.Data.Scenarios {
				names = append(names, sc.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, len(tt.want), resp.Data.Passed)
		})
	}
}

func TestVerifyInvalidFilter(t *testing.T) {
	run := execute(t, "verify", "--filter", "[", scenariosDir)
	require.Error(t, run.err)
	assert.Equal(t, ExitCommandError, GetExitCode(run.err))
}

func TestVerifyFailingScenario(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "unknown_flag.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
name: unknown_flag_succeeds
description: expects success from a command the engine rejects
steps:
  - name: bogus
    args: [sync, --bogus]
`), 0o644))

	run := execute(t, "verify", p)
	require.Error(t, run.err)
	assert.Equal(t, ExitFailure, GetExitCode(run.err))
	assert.Contains(t, run.stdout, "\u2717 unknown_flag_succeeds\n")
	assert.Contains(t, run.stdout, "0 passed, 1 failed, 1 total")

	run = execute(t, "verify", "--format", "json", p)
	require.Error(t, run.err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(run.stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_VERIFY_FAILED", resp.Error.Code)
}

func TestVerifyWritesReports(t *testing.T) {
	reports := t.TempDir()
	run := execute(t, "verify", "--filter", "remove", "--reports", reports, scenariosDir)
	require.NoError(t, run.err, run.stdout)

	data, err := os.ReadFile(filepath.Join(reports, "remove.json"))
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "remove", report["scenario"])
	assert.Equal(t, true, report["pass"])
}

func TestVerifyCommandErrors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		run := execute(t, "verify", "/nonexistent/scenarios")
		assert.Equal(t, ExitCommandError, GetExitCode(run.err))
	})

	t.Run("bad parallel", func(t *testing.T) {
		run := execute(t, "verify", "--parallel", "0", scenariosDir)
		assert.Equal(t, ExitCommandError, GetExitCode(run.err))
	})

	t.Run("bad tolerance", func(t *testing.T) {
		run := execute(t, "verify", "--tolerance", "1.5", scenariosDir)
		assert.Equal(t, ExitCommandError, GetExitCode(run.err))
	})

	t.Run("no engine", func(t *testing.T) {
		t.Setenv(EngineEnv, "")
		run := executeWith(t, &RootOptions{}, "verify", scenariosDir)
		assert.Equal(t, ExitCommandError, GetExitCode(run.err))
	})

	t.Run("duplicate scenario", func(t *testing.T) {
		run := execute(t, "verify", scenariosDir, filepath.Join(scenariosDir, "sync.yaml"))
		require.Error(t, run.err)
		assert.Equal(t, ExitCommandError, GetExitCode(run.err))
		assert.Contains(t, run.err.Error(), `scenario "sync" defined in both`)
	})
}

func TestVerifyNoScenarios(t *testing.T) {
	run := execute(t, "verify", "--filter", "nothing_matches", scenariosDir)
	require.NoError(t, run.err)
	assert.Contains(t, run.stdout, "No scenarios found.")
}

func TestTwoPassAndHistory(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "ledger.db")
	report := filepath.Join(dir, "report.json")

	run := execute(t, "twopass",
		"--name", "sync_two_pass",
		"--manifest", syncManifest,
		"--fixtures", syncFixtures,
		"--log", spacebrewLog,
		"--ledger", ledger,
		"--report", report,
	)
	require.NoError(t, run.err, run.stdout)
	assert.Contains(t, run.stdout, "sync_two_pass\n")
	assert.Contains(t, run.stdout, "\u2713 generate (exit 0)\n")
	assert.Contains(t, run.stdout, "\u2713 update (exit 0)\n")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario":"sync_two_pass"`)

	run = execute(t, "history", "--ledger", ledger, "--format", "json")
	require.NoError(t, run.err)
	var resp struct {
		Data []RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(run.stdout), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "generate", resp.Data[0].Label)
	assert.Equal(t, "update", resp.Data[1].Label)
	assert.Equal(t, resp.Data[0].Session, resp.Data[1].Session)
	assert.Equal(t, map[string]int{"libraries": 2, "releases": 4, "index": 4}, resp.Data[1].Records)

	run = execute(t, "history", "--ledger", ledger)
	require.NoError(t, run.err)
	assert.Contains(t, run.stdout, "SEQ")
	assert.Contains(t, run.stdout, "libraries=2 releases=4 index=4")
}

func TestTwoPassSizeToleranceFailure(t *testing.T) {
	run := execute(t, "twopass",
		"--manifest", syncManifest,
		"--fixtures", syncFixtures,
		"--tolerance", "0.0001",
		"--format", "json",
	)
	require.Error(t, run.err)
	assert.Equal(t, ExitFailure, GetExitCode(run.err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(run.stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TWOPASS_FAILED", resp.Error.Code)
}

func TestTwoPassMissingFixtures(t *testing.T) {
	run := execute(t, "twopass", "--manifest", syncManifest, "--fixtures", "/nonexistent/fixtures")
	require.Error(t, run.err)
	assert.Equal(t, ExitCommandError, GetExitCode(run.err))
	assert.Contains(t, run.err.Error(), "not found")
}

func TestHistoryMissingLedger(t *testing.T) {
	run := execute(t, "history", "--ledger", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, run.err)
	assert.Equal(t, ExitCommandError, GetExitCode(run.err))
}
