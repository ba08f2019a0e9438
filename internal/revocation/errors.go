// Package revocation owns the revocation request lifecycle: creation,
// confirmation, cancellation, and the input validation and error taxonomy
// around it.
package revocation

import "net/http"

// Code is the closed set of client-visible error codes.
type Code string

const (
	CodeAuthRequired  Code = "AUTH_REQUIRED"
	CodeAuthFailed    Code = "AUTH_FAILED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeInvalidState  Code = "INVALID_STATE"
	CodeInvalidReason Code = "INVALID_REASON"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeRateLimited   Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
)

// Error is an expected business failure carrying a client-safe code and
// message. Unexpected failures (storage down, driver errors) travel as plain
// wrapped errors and are converted by Sanitize at the boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// HTTPStatus maps an error code to its response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAuthRequired, CodeAuthFailed:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeInvalidReason, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
