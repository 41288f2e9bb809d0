package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFormatter(format string, verbose bool) (*OutputFormatter, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewOutputFormatter(format, out, errOut, verbose), out, errOut
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	formatter, buf, _ := newTestFormatter("json", false)

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	formatter, buf, _ := newTestFormatter("json", false)

	err := formatter.Error("E_CONFIG", "config not found", []string{"config.json"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CONFIG", resp.Error.Code)
	assert.Equal(t, "config not found", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_JSONKeepsURLs(t *testing.T) {
	formatter, buf, _ := newTestFormatter("json", false)

	require.NoError(t, formatter.Success("https://example.com/a?b=1&c=<2>"))
	assert.Contains(t, buf.String(), "&c=<2>")
}

func TestOutputFormatter_TextError(t *testing.T) {
	formatter, buf, _ := newTestFormatter("text", false)

	require.NoError(t, formatter.Error("E001", "crosscheck failed", map[string]string{"n": "2"}))
	assert.Contains(t, buf.String(), "Error [E001]:")
	assert.Contains(t, buf.String(), "crosscheck failed")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	formatter, buf, _ := newTestFormatter("text", true)

	require.NoError(t, formatter.Error("E001", "crosscheck failed", map[string]string{"n": "2"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Mark(t *testing.T) {
	formatter, buf, _ := newTestFormatter("text", false)

	formatter.Mark(true, "sync", nil)
	formatter.Mark(false, "remove", []string{"first problem", "second problem"})

	assert.Equal(t,
		"\u2713 sync\n\u2717 remove\n  first problem\n  second problem\n",
		buf.String(), "styles are dropped when the writer is not a terminal")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, out, errOut := newTestFormatter("json", tt.verbose)

			formatter.VerboseLog("running %s", "sync")

			assert.Empty(t, out.String(), "diagnostics never go to the output stream")
			if tt.wantLog {
				assert.Equal(t, "running sync\n", errOut.String())
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "failed")), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to load config", cause)

	assert.Equal(t, "failed to load config: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}
