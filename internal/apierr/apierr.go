// Package apierr defines the error taxonomy shared by the dispatcher,
// repository and router. Errors are classified by kind, not type; the
// router maps kinds to HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping.
type Kind int

const (
	// BadRequest: malformed/invalid/missing required parameter,
	// pagination out of bounds.
	BadRequest Kind = iota

	// NotFound: unknown endpoint, or no data on single-result queries.
	NotFound

	// ServiceUnavailable: the referenced pool is DOWN.
	ServiceUnavailable

	// InternalError: configuration inconsistency missed by validation,
	// or a driver error.
	InternalError

	// ConfigurationError is raised only at load/validate and prevents
	// startup. It never reaches the HTTP surface.
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "BAD_REQUEST"
	case NotFound:
		return "NOT_FOUND"
	case ServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConfigurationError:
		return "CONFIGURATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// HTTPStatus returns the status code the router writes for this kind
func (k Kind) HTTPStatus() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is an error with a kind and an optional wrapped cause.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or InternalError for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return InternalError
}

// MessageOf returns the user-facing message of err
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}
