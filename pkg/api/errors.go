package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a member of the error taxonomy shared by all services.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindBadRequest          Kind = "BadRequest"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindSchemaInvalid       Kind = "SchemaInvalid"
	KindRateLimited         Kind = "RateLimited"
	KindInternal            Kind = "Internal"
)

// Status maps a kind onto its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindSchemaInvalid:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusMethodNotAllowed:
		return KindBadRequest
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindUpstreamUnavailable
	case http.StatusUnprocessableEntity:
		return KindSchemaInvalid
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindInternal
	}
}

// Error is a classified failure. Detail is safe to show to callers; Err is
// kept for logs and errors.Is/As chains.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can test errors.Is(err, api.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Detail == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrBadRequest          = &Error{Kind: KindBadRequest}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrSchemaInvalid       = &Error{Kind: KindSchemaInvalid}
)

// NotFound builds a NotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// BadRequest builds a BadRequest error.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Detail: fmt.Sprintf(format, args...)}
}

// Unavailable builds an UpstreamUnavailable error for the named upstream.
func Unavailable(upstream string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Detail: fmt.Sprintf("Upstream unavailable: %s", upstream), Err: err}
}

// SchemaInvalid builds a SchemaInvalid error.
func SchemaInvalid(schemaID string, err error) *Error {
	return &Error{Kind: KindSchemaInvalid, Detail: fmt.Sprintf("Schema %s could not be compiled", schemaID), Err: err}
}

// FromStatus classifies an error status returned by another service,
// keeping its detail.
func FromStatus(status int, detail string) *Error {
	return &Error{Kind: kindForStatus(status), Detail: detail}
}

// KindOf reports the taxonomy member of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}
