// Package problem defines the error surface shared by every sloscope
// component. All failures map to one of six kinds; the API layer renders
// them as RFC 7807 problem documents with a per-request correlation id.
package problem

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers.
type Kind string

const (
	NotFound    Kind = "not-found"
	Invalid     Kind = "invalid"
	Conflict    Kind = "conflict"
	RateLimited Kind = "rate-limited"
	Unavailable Kind = "unavailable"
	Internal    Kind = "internal"
)

const typeURIBase = "https://sloscope.io/problems/"

// Error carries a kind plus a human-readable detail. It optionally wraps a
// cause, which is preserved for logging but never rendered for Internal
// errors.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New returns an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from err, defaulting to Internal for errors that
// did not originate here.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// TypeURI returns the stable type identifier for a kind.
func (k Kind) TypeURI() string {
	return typeURIBase + string(k)
}

// Title returns the short, stable title for a kind.
func (k Kind) Title() string {
	switch k {
	case NotFound:
		return "Not Found"
	case Invalid:
		return "Invalid Parameter"
	case Conflict:
		return "Conflict"
	case RateLimited:
		return "Rate Limited"
	case Unavailable:
		return "Temporarily Unavailable"
	default:
		return "Internal Error"
	}
}

// Status maps a kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Invalid:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Document is the wire form of a failure, per RFC 7807.
type Document struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id"`
	RetryAfter    int    `json:"retry_after_seconds,omitempty"`
}

// DocumentFor builds the wire form of err. Internal errors are rendered
// without detail; callers are expected to have logged the cause already.
func DocumentFor(err error, correlationID string) Document {
	kind := KindOf(err)
	detail := ""
	if kind != Internal {
		var pe *Error
		if errors.As(err, &pe) {
			detail = pe.Detail
		} else {
			detail = err.Error()
		}
	}
	return Document{
		Type:          kind.TypeURI(),
		Title:         kind.Title(),
		Status:        kind.Status(),
		Detail:        detail,
		CorrelationID: correlationID,
	}
}
