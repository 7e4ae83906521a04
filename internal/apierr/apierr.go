// Package apierr provides the typed error taxonomy shared across the
// store, engine, and HTTP layers. Nothing below the HTTP layer knows about
// status codes; handlers translate an *Error into one at the edge.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the six error categories the system distinguishes.
type Kind string

const (
	NotFound       Kind = "not_found"
	InvalidArgument Kind = "invalid_argument"
	Conflict       Kind = "conflict"
	AuthRequired   Kind = "auth_required"
	Upstream       Kind = "upstream"
	Internal       Kind = "internal"
)

// Error is a typed error carrying an HTTP status mapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int {
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case AuthRequired:
		return http.StatusUnauthorized
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFoundf(format string, a ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, a...))
}

func InvalidArgumentf(format string, a ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, a...))
}

func Conflictf(format string, a ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, a...))
}

func Internalf(cause error, format string, a ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, a...), cause)
}

// As extracts an *Error from err, if any, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status code for any error, defaulting to 500
// for errors that aren't a typed *Error.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
