// Package problem classifies service errors and renders them as
// RFC 7807 problem details.
package problem

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable error classification.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with a human-readable detail.
// Err is the underlying cause, kept for logs and errors.Is.
type Error struct {
	Err    error
	Kind   Kind
	Detail string
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// Validation reports missing or malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing transaction or message.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Forbidden reports an ownership mismatch.
func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Detail: fmt.Sprintf(format, args...)}
}

// Conflict reports an operation the resource's current state does not allow.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}

// Dependency wraps a persistence or broker failure.
func Dependency(err error, format string, args ...any) *Error {
	return &Error{Kind: KindDependency, Detail: fmt.Sprintf(format, args...), Err: err}
}

// WithField attaches a per-field validation message.
func (e *Error) WithField(field, msg string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	pe, ok := As(err)
	return ok && pe.Kind == kind
}

// StatusOf returns the HTTP status for err; unclassified errors are 500.
func StatusOf(err error) int {
	if pe, ok := As(err); ok {
		return pe.Status()
	}
	return http.StatusInternalServerError
}
