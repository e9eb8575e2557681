package relay

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorMalformedRequest       ErrorCode = "MALFORMED_REQUEST"
	ErrorMissingField           ErrorCode = "MISSING_FIELD"
	ErrorConfiguration          ErrorCode = "CONFIGURATION_ERROR"
	ErrorTimeout                ErrorCode = "TIMEOUT"
	ErrorUnreachable            ErrorCode = "UNREACHABLE"
	ErrorBackend                ErrorCode = "BACKEND_ERROR"
	ErrorInvalidBackendResponse ErrorCode = "INVALID_BACKEND_RESPONSE"
	ErrorInternal               ErrorCode = "INTERNAL_ERROR"
)

// Error is the discriminated failure type for one relay attempt. Status is
// set only when the backend's own status code must be propagated; Detail
// carries backend-supplied diagnostics when available.
type Error struct {
	Code   ErrorCode
	Reason string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("relay: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("relay: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus maps the failure to the most specific known status code: the
// backend's own code for backend errors, a synthetic one otherwise.
func (e *Error) HTTPStatus() int {
	if e.Code == ErrorBackend && e.Status >= 400 {
		return e.Status
	}
	switch e.Code {
	case ErrorMalformedRequest, ErrorMissingField:
		return http.StatusBadRequest
	case ErrorConfiguration:
		return http.StatusInternalServerError
	case ErrorTimeout:
		return http.StatusGatewayTimeout
	case ErrorUnreachable, ErrorBackend, ErrorInvalidBackendResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// NewMalformedRequestError marks an inbound body that could not be parsed.
// Exported for the handler, which owns event decoding.
func NewMalformedRequestError(err error) *Error {
	return newError(ErrorMalformedRequest, "unparseable_body", err)
}
