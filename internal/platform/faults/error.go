package faults

import (
	"fmt"

	"github.com/google/uuid"
)

// Error is a classified failure. It wraps the original cause and carries the
// stable identifiers callers are allowed to depend on: ID, Kind and HTTPStatus.
// The original message is preserved for diagnostics only.
type Error struct {
	ID         string
	Kind       Kind
	Severity   Severity
	HTTPStatus int
	Context    string
	Message    string
	cause      error
}

// New builds a classified error for the given kind with defaults filled in
// from the taxonomy.
func New(kind Kind, context, message string) *Error {
	info := kind.Info()
	return &Error{
		ID:         uuid.NewString(),
		Kind:       kind,
		Severity:   info.Severity,
		HTTPStatus: info.HTTPStatus,
		Context:    context,
		Message:    message,
	}
}

// Wrap classifies cause into kind, preserving it for errors.Is/As chains.
func Wrap(cause error, kind Kind, context string) *Error {
	e := New(kind, context, "")
	if cause != nil {
		e.Message = cause.Error()
	}
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Context, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.cause }

// WithStatus overrides the surfaced HTTP status, keeping the kind default
// otherwise.
func (e *Error) WithStatus(status int) *Error {
	if status != 0 {
		e.HTTPStatus = status
	}
	return e
}
