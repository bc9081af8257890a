// Package apperr defines the stable failure kinds returned by the core
// operations. Callers match on kind with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable failure category.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindNoActiveSession Kind = "no_active_session"
	KindAuthorization   Kind = "authorization_error"
	KindPersistence     Kind = "persistence_error"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrNoActiveSession = &Error{Kind: KindNoActiveSession}
	ErrAuthorization   = &Error{Kind: KindAuthorization}
	ErrPersistence     = &Error{Kind: KindPersistence}
)

// Error is a structured failure with a human-readable message. Err keeps the
// underlying cause for logging; it is never part of Error().
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation returns a user-correctable input error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Invalid returns a validation error carrying per-field details.
func Invalid(msg string, details map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NoActiveSession() *Error {
	return &Error{Kind: KindNoActiveSession, Message: "no active check-in found"}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure behind a generic message.
func Persistence(cause error) *Error {
	return &Error{Kind: KindPersistence, Message: "internal storage failure", Err: cause}
}

// KindOf returns the kind of err, treating unknown errors as persistence
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// As extracts the *Error in err's chain, wrapping foreign errors as
// persistence failures.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Persistence(err)
}
