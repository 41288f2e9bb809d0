package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification failure (a scenario or check failed)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, engine missing)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose/diagnostic output; defaults to Writer
	Verbose   bool

	pass  lipgloss.Style
	fail  lipgloss.Style
	faint lipgloss.Style
	title lipgloss.Style
}

// NewOutputFormatter styles text output for w. Colors are dropped when w is
// not a terminal.
func NewOutputFormatter(format string, w, errW io.Writer, verbose bool) *OutputFormatter {
	r := lipgloss.NewRenderer(w)
	return &OutputFormatter{
		Format:    format,
		Writer:    w,
		ErrWriter: errW,
		Verbose:   verbose,
		pass:      r.NewStyle().Foreground(lipgloss.Color("#5FD787")).Bold(true),
		fail:      r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		faint:     r.NewStyle().Foreground(lipgloss.Color("#888888")),
		title:     r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
	}
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_VERIFY_FAILED", ...
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON writes an indented response.
func (f *OutputFormatter) JSON(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.JSON(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "%s %s\n", f.fail.Render("Error ["+code+"]:"), message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Title writes a section heading.
func (f *OutputFormatter) Title(text string) {
	fmt.Fprintln(f.Writer, f.title.Render(text))
}

// Mark writes a pass/fail line followed by indented problems.
func (f *OutputFormatter) Mark(pass bool, name string, problems []string) {
	if pass {
		fmt.Fprintf(f.Writer, "%s %s\n", f.pass.Render("\u2713"), name)
		return
	}
	fmt.Fprintf(f.Writer, "%s %s\n", f.fail.Render("\u2717"), name)
	for _, p := range problems {
		fmt.Fprintf(f.Writer, "  %s\n", p)
	}
}

// Note writes a de-emphasized line.
func (f *OutputFormatter) Note(format string, args ...any) {
	fmt.Fprintln(f.Writer, f.faint.Render(fmt.Sprintf(format, args...)))
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
