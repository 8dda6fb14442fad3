package scenario

import "github.com/perchlabs/fieldtrial/experiment"

// TraceEvent records one executed step for diagnostics.
type TraceEvent struct {
	// Op is the step operation.
	Op string `json:"op"`

	// Experiment is the opt-in/opt-out target, when the op has one.
	Experiment string `json:"experiment,omitempty"`

	// Outcome is "ok" or the error code the step returned.
	Outcome string `json:"outcome"`

	// Events are the change events the step produced.
	Events []experiment.ChangeEvent `json:"events,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result for the named scenario.
func NewResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
	}
}

// AddError records an expectation failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddTrace appends a step record.
func (r *Result) AddTrace(op, target, outcome string, events []experiment.ChangeEvent) {
	r.Trace = append(r.Trace, TraceEvent{
		Op:         op,
		Experiment: target,
		Outcome:    outcome,
		Events:     events,
	})
}
