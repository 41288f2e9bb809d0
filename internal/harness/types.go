package harness

import (
	"go.uber.org/multierr"
)

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Name     string   `json:"name"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Pass     bool     `json:"pass"`
	Errors   []string `json:"errors,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true when every step met its expectation and every check held.
	Pass bool `json:"pass"`

	// Steps holds one entry per executed step. Steps after a failed exit
	// expectation are not executed.
	Steps []StepResult `json:"steps"`

	// Errors contains every failure message in execution order.
	Errors []string `json:"errors,omitempty"`

	failures []error
}

// NewResult creates a new passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Steps:    []StepResult{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result, and its last step if any,
// as failed.
func (r *Result) AddError(err error) {
	r.addError(err, err.Error())
}

func (r *Result) addError(err error, msg string) {
	r.failures = append(r.failures, err)
	r.Errors = append(r.Errors, msg)
	r.Pass = false
	if n := len(r.Steps); n > 0 {
		r.Steps[n-1].Pass = false
		r.Steps[n-1].Errors = append(r.Steps[n-1].Errors, msg)
	}
}

// Err returns every failure combined, or nil when the scenario passed.
func (r *Result) Err() error {
	return multierr.Combine(r.failures...)
}
