package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/perchlabs/fieldtrial"
	"github.com/perchlabs/fieldtrial/experiment"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario or validation failure
	ExitCommandError = 2 // Command error (bad config, unknown experiment, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // error code ("no-such-branch", ...)
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// writeJSON emits a CLIResponse with two-space indentation.
func writeJSON(w io.Writer, response CLIResponse) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputJSON emits a success response carrying data.
func outputJSON(w io.Writer, data interface{}) error {
	return writeJSON(w, CLIResponse{Status: "ok", Data: data})
}

// printEvents renders change events as text, one per line.
func printEvents(w io.Writer, events []experiment.ChangeEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No enrollment changes.")
		return
	}
	for _, event := range events {
		line := fmt.Sprintf("%s: %s (branch %s", event.ExperimentSlug, event.Change, event.BranchSlug)
		if event.Reason != "" {
			line += ", reason " + event.Reason
		}
		line += ")"
		fmt.Fprintln(w, line)
	}
}

// eventData is the JSON payload for commands that return change events.
type eventData struct {
	Events []experiment.ChangeEvent `json:"events"`
	Count  int                      `json:"count"`
}

// outputEvents renders events in the selected format.
func outputEvents(w io.Writer, format string, events []experiment.ChangeEvent) error {
	if format == "json" {
		if events == nil {
			events = []experiment.ChangeEvent{}
		}
		return outputJSON(w, eventData{Events: events, Count: len(events)})
	}
	printEvents(w, events)
	return nil
}

// commandError renders an engine failure in the selected format and
// returns the ExitError the command should propagate. Engine error codes
// ("no-such-experiment", "schema", ...) pass through to JSON consumers.
func commandError(w io.Writer, format string, err error) error {
	code := "command-error"
	if fe, ok := fieldtrial.AsError(err); ok {
		code = string(fe.Code)
	}
	if format == "json" {
		_ = writeJSON(w, CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: err.Error()}})
	} else {
		fmt.Fprintf(w, "✗ %s\n", err.Error())
	}
	return WrapExitError(ExitCommandError, "command failed", err)
}
