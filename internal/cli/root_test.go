package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arduino/libraries-repository-engine/internal/testutil"
)

type cliRun struct {
	stdout string
	stderr string
	err    error
}

// execute runs the CLI in-process with the fake engine.
func execute(t *testing.T, args ...string) cliRun {
	t.Helper()
	return executeWith(t, &RootOptions{runner: testutil.NewFakeEngine(afero.NewOsFs())}, args...)
}

func executeWith(t *testing.T, opts *RootOptions, args ...string) cliRun {
	t.Helper()
	cmd := newRootCommand(opts)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return cliRun{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "engine-verify", cmd.Use)
	assert.Contains(t, cmd.Long, "sandboxes")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"verify", "twopass", "render", "crosscheck", "record", "history"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestVerifyCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	verifyCmd, _, err := cmd.Find([]string{"verify"})
	require.NoError(t, err)

	parallel := verifyCmd.Flags().Lookup("parallel")
	require.NotNil(t, parallel)
	assert.Equal(t, "p", parallel.Shorthand)
	assert.Equal(t, "1", parallel.DefValue)

	engineFlag := verifyCmd.Flags().Lookup("engine")
	require.NotNil(t, engineFlag)
	assert.Equal(t, "", engineFlag.DefValue)
}

func TestTwoPassCommandRequiredFlags(t *testing.T) {
	run := execute(t, "twopass", "--fixtures", "somewhere")
	require.Error(t, run.err)
	assert.Contains(t, run.err.Error(), `required flag(s) "manifest" not set`)
}

func TestInvalidFormat(t *testing.T) {
	run := execute(t, "render", "--format", "yaml", "-")
	require.Error(t, run.err)
	assert.Equal(t, ExitCommandError, GetExitCode(run.err))
	assert.Contains(t, run.err.Error(), `invalid format "yaml"`)
}

func TestEngineRunnerResolution(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		t.Setenv(EngineEnv, "")
		_, err := (&RootOptions{}).engineRunner("")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), EngineEnv)
	})

	t.Run("not a file", func(t *testing.T) {
		_, err := (&RootOptions{}).engineRunner("/nonexistent/engine")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("from environment", func(t *testing.T) {
		exe := filepath.Join(t.TempDir(), "libraries-repository-engine")
		require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
		t.Setenv(EngineEnv, exe)
		r, err := (&RootOptions{}).engineRunner("")
		require.NoError(t, err)
		assert.NotNil(t, r)
	})
}

func TestUnknownFlagIsCommandError(t *testing.T) {
	run := execute(t, "history", "--bogus")
	require.Error(t, run.err)
	assert.Equal(t, ExitCommandError, GetExitCode(run.err))
}
