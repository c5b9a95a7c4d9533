// Package apperr is the error taxonomy shared by the progress engine and the
// HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindOutOfRange    Kind = "out_of_range"
	KindUnprocessable Kind = "unprocessable"
	KindUnauthorized  Kind = "unauthorized"
	KindUnavailable   Kind = "unavailable"
)

// Sentinels usable with errors.Is.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrOutOfRange    = &Error{Kind: KindOutOfRange}
	ErrUnprocessable = &Error{Kind: KindUnprocessable}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
)

// Error carries a kind, a human readable message and optional details that
// let the caller correct the request.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict)
// holds for every conflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail returns a copy of e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Details: details}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func OutOfRange(format string, args ...any) *Error {
	return New(KindOutOfRange, format, args...)
}

func Unprocessable(format string, args ...any) *Error {
	return New(KindUnprocessable, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

// Unavailable marks a missing or failing backing service.
func Unavailable(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
