// Package apperr defines the closed error taxonomy used across the
// distribution backend and renders it as the API's error envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories the backend ever returns to a caller.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuthRequired        Kind = "auth_required"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindRateLimited         Kind = "rate_limited"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindAuthRequired:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindPreconditionFailed:  http.StatusUnprocessableEntity,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUpstreamUnavailable: http.StatusBadGateway,
	KindTimeout:             http.StatusGatewayTimeout,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the typed error every component returns up the call stack.
// The cause is preserved for logging but is never rendered to a caller.
type Error struct {
	Kind   Kind
	Title  string
	Detail string
	Field  string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind with a caller-facing detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Title: defaultTitle(kind), Detail: detail}
}

// Field constructs a validation-style Error scoped to a request field.
func Field(kind Kind, field, detail string) *Error {
	return &Error{Kind: kind, Title: defaultTitle(kind), Detail: detail, Field: field}
}

// Wrap attaches an internal cause to an Error without exposing it.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Title: defaultTitle(kind), Detail: detail, cause: cause}
}

// Internal wraps an unexpected error as a generic 500, preserving the
// cause for logging but never the caller-visible detail.
func Internal(cause error) *Error {
	return &Error{
		Kind:   KindInternal,
		Title:  defaultTitle(KindInternal),
		Detail: "an unexpected error occurred",
		cause:  cause,
	}
}

func defaultTitle(k Kind) string {
	switch k {
	case KindValidation:
		return "Validation Failed"
	case KindAuthRequired:
		return "Authentication Required"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "Not Found"
	case KindConflict:
		return "Conflict"
	case KindPreconditionFailed:
		return "Precondition Failed"
	case KindRateLimited:
		return "Rate Limited"
	case KindUpstreamUnavailable:
		return "Upstream Unavailable"
	case KindTimeout:
		return "Timeout"
	default:
		return "Internal Error"
	}
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the error's kind, defaulting to Internal for unknown errors.
// Useful at transaction boundaries that need to classify any error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
