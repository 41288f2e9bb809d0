package engine

import (
	"fmt"
	"strings"
)

// Kind classifies an engine failure.
type Kind string

const (
	// KindConfiguration covers a missing or unreadable database or config.
	KindConfiguration Kind = "configuration"

	// KindArgument covers unknown flags, wrong argument counts and malformed
	// release references.
	KindArgument Kind = "argument"

	// KindDomain covers operations on entities that do not exist, invalid
	// repository URLs and modifications that would not change anything.
	KindDomain Kind = "domain"

	// KindProcessExit covers any other non-zero exit.
	KindProcessExit Kind = "process_exit"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConfiguration, KindArgument, KindDomain, KindProcessExit:
		return true
	}
	return false
}

// classifiers map stderr fragments produced by the engine to a Kind.
var classifiers = []struct {
	fragment string
	kind     Kind
}{
	{"Database file not found", KindConfiguration},
	{"configuration file", KindConfiguration},
	{"unknown flag", KindArgument},
	{"accepts ", KindArgument},
	{"argument is required", KindArgument},
	{"Missing version for library name", KindArgument},
	{"does not have a valid format", KindDomain},
	{"No modification flags", KindDomain},
	{"not found", KindDomain},
	{"already has", KindDomain},
}

// Classify returns the kind of a failed result. Successful results and
// unrecognized messages classify as KindProcessExit.
func Classify(res *Result) Kind {
	if res == nil || res.OK() {
		return KindProcessExit
	}
	for _, c := range classifiers {
		if strings.Contains(res.Stderr, c.fragment) {
			return c.kind
		}
	}
	return KindProcessExit
}

// ProcessExitError reports an engine run that was expected to succeed.
type ProcessExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ProcessExitError) Error() string {
	msg := fmt.Sprintf("engine %s exited with status %d", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Require converts an unsuccessful result into a *ProcessExitError.
func Require(args []string, res *Result) error {
	if res.OK() {
		return nil
	}
	return &ProcessExitError{Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
}
