package fieldtrial

import (
	"errors"
	"fmt"

	"github.com/perchlabs/fieldtrial/internal/store"
	"github.com/perchlabs/fieldtrial/remote"
)

// ErrorCode categorizes every operational error the Client returns. The
// set is closed: callers can switch on codes without fearing new ones in
// patch releases.
type ErrorCode string

const (
	// ErrCodePersistence indicates the database rejected an operation
	// (I/O failure, schema problem, transaction error).
	ErrCodePersistence ErrorCode = "persistence"

	// ErrCodeInvalidPersistedData indicates stored state failed to decode.
	// The database is likely damaged; deleting it loses enrollment history
	// but restores service.
	ErrCodeInvalidPersistedData ErrorCode = "invalid-persisted-data"

	// ErrCodeDatabaseNotReady indicates an operation before Initialize or
	// after Close.
	ErrCodeDatabaseNotReady ErrorCode = "database-not-ready"

	// ErrCodeSchema indicates a catalog payload failed validation. The
	// payload was rejected wholesale; applied state is untouched.
	ErrCodeSchema ErrorCode = "schema"

	// ErrCodeTargeting indicates a targeting engine problem. Expression
	// failures inside a batch are contained per experiment and logged, so
	// this code mostly surfaces from configuration (an unknown engine
	// name).
	ErrCodeTargeting ErrorCode = "targeting"

	// ErrCodeBucketing indicates a bucketing configuration problem.
	// Contained per experiment during evolution; reserved here so the
	// taxonomy names every failure kind the engine can log.
	ErrCodeBucketing ErrorCode = "bucketing"

	// ErrCodeNetworking indicates the catalog fetch failed.
	ErrCodeNetworking ErrorCode = "networking"

	// ErrCodeBackoff indicates the server requested a pause. Retry after
	// the duration carried by the wrapped *remote.BackoffError.
	ErrCodeBackoff ErrorCode = "backoff"

	// ErrCodeIdentifier indicates enrollment-id generation failed.
	ErrCodeIdentifier ErrorCode = "identifier"

	// ErrCodeNoSuchExperiment indicates a slug-based query named an
	// experiment outside the applied catalog.
	ErrCodeNoSuchExperiment ErrorCode = "no-such-experiment"

	// ErrCodeNoSuchBranch indicates an opt-in named a branch the
	// experiment does not declare.
	ErrCodeNoSuchBranch ErrorCode = "no-such-branch"

	// ErrCodeInternal indicates an invariant violation.
	ErrCodeInternal ErrorCode = "internal"
)

// Error is the single error type Client operations return. Constructor
// validation in New may return plain errors; everything after that is
// (or wraps) an *Error.
type Error struct {
	// Code identifies the failure kind.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Slug identifies the affected experiment, when there is one.
	Slug string

	// Err is the underlying cause, reachable through errors.As for the
	// internal typed errors (store corruption, remote backoff, ...).
	Err error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Slug != "" {
		s += fmt.Sprintf(" (experiment=%s)", e.Slug)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	fe, ok := AsError(err)
	return ok && fe.Code == code
}

// IsNotFound reports whether err is one of the lookup failures
// (no such experiment, no such branch).
func IsNotFound(err error) bool {
	fe, ok := AsError(err)
	return ok && (fe.Code == ErrCodeNoSuchExperiment || fe.Code == ErrCodeNoSuchBranch)
}

func errNotReady() *Error {
	return &Error{Code: ErrCodeDatabaseNotReady, Message: "call Initialize first"}
}

func errNoSuchExperiment(slug string) *Error {
	return &Error{Code: ErrCodeNoSuchExperiment, Message: "experiment not in applied catalog", Slug: slug}
}

func errNoSuchBranch(slug, branch string) *Error {
	return &Error{
		Code:    ErrCodeNoSuchBranch,
		Message: fmt.Sprintf("experiment has no branch %q", branch),
		Slug:    slug,
	}
}

// storeError maps internal store failures onto the persistence codes.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotReady) {
		return &Error{Code: ErrCodeDatabaseNotReady, Message: "database not ready", Err: err}
	}
	var corrupt *store.CorruptError
	if errors.As(err, &corrupt) {
		return &Error{Code: ErrCodeInvalidPersistedData, Message: "stored state failed to decode", Err: err}
	}
	return &Error{Code: ErrCodePersistence, Message: "database operation failed", Err: err}
}

// catalogError wraps payload validation failures.
func catalogError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: ErrCodeSchema, Message: "catalog payload rejected", Err: err}
}

// fetchError maps catalog transport failures, separating server-requested
// pauses from everything else.
func fetchError(err error) error {
	if err == nil {
		return nil
	}
	var backoff *remote.BackoffError
	if errors.As(err, &backoff) {
		return &Error{Code: ErrCodeBackoff, Message: "catalog server requested backoff", Err: err}
	}
	return &Error{Code: ErrCodeNetworking, Message: "catalog fetch failed", Err: err}
}
