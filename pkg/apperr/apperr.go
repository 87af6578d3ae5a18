// Package apperr defines the error taxonomy shared by every component.
// Errors carry a Kind so the HTTP/WebSocket boundary can map them to a
// response outcome; nothing in the orchestrator panics on one of these.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary mapping.
type Kind string

const (
	Validation      Kind = "validation"
	NotFound        Kind = "not_found"
	Forbidden       Kind = "forbidden"
	Conflict        Kind = "conflict"
	InvalidState    Kind = "invalid_state"
	ExternalService Kind = "external_service"
	Configuration   Kind = "configuration"
)

// Error is a kinded error with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional cause, not exposed to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches two apperr errors by Kind so errors.Is(err, apperr.New(kind, ...))
// style sentinels work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a kinded error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error with a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or empty string for non-apperr errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
