package flow

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an OAuth2 error category from the fixed vocabulary
// exchanged with clients.
type Code string

const (
	CodeInvalidRequest       Code = "invalid_request"
	CodeUnsupportedGrantType Code = "unsupported_grant_type"
	CodeInvalidGrant         Code = "invalid_grant"
	CodeInvalidScope         Code = "invalid_scope"
	CodeInvalidClaim         Code = "invalid_claim"
	CodeUnauthorizedClient   Code = "unauthorized_client"
	CodeInvalidClient        Code = "invalid_client"
	CodeInvalidToken         Code = "invalid_token"
	CodeServerError          Code = "internal_server_error"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest:       http.StatusBadRequest,
	CodeUnsupportedGrantType: http.StatusBadRequest,
	CodeInvalidGrant:         http.StatusBadRequest,
	CodeInvalidScope:         http.StatusBadRequest,
	CodeInvalidClaim:         http.StatusBadRequest,
	CodeUnauthorizedClient:   http.StatusBadRequest,
	CodeInvalidClient:        http.StatusUnauthorized,
	CodeInvalidToken:         http.StatusUnauthorized,
	CodeServerError:          http.StatusInternalServerError,
}

// Error is a protocol-level failure. Status and Code travel to the client;
// the cause chain stays server-side for diagnostics.
type Error struct {
	Status  int    `json:"status"`
	Code    Code   `json:"error"`
	Message string `json:"error_description"`

	cause error
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{
		Status:  statusByCode[code],
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// ErrInvalidRequest reports a malformed or incomplete request parameter.
func ErrInvalidRequest(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, format, args...)
}

// ErrInvalidGrant reports an invalid or expired grant.
func ErrInvalidGrant(format string, args ...any) *Error {
	return newError(CodeInvalidGrant, format, args...)
}

// ErrInvalidScope reports a scope outside the client allowlist.
func ErrInvalidScope(format string, args ...any) *Error {
	return newError(CodeInvalidScope, format, args...)
}

// ErrInvalidClaim reports a missing or malformed token claim.
func ErrInvalidClaim(format string, args ...any) *Error {
	return newError(CodeInvalidClaim, format, args...)
}

// ErrUnauthorizedClient reports a client acting outside its grants.
func ErrUnauthorizedClient(format string, args ...any) *Error {
	return newError(CodeUnauthorizedClient, format, args...)
}

// ErrInvalidClient reports an unknown or unlinked client.
func ErrInvalidClient(format string, args ...any) *Error {
	return newError(CodeInvalidClient, format, args...)
}

// ErrInvalidToken reports an expired or otherwise unusable token.
func ErrInvalidToken(format string, args ...any) *Error {
	return newError(CodeInvalidToken, format, args...)
}

// ErrServerError reports a server-side inconsistency. The message is logged
// but only a generic description reaches the client unless verbose errors
// are enabled by the embedding server.
func ErrServerError(format string, args ...any) *Error {
	return newError(CodeServerError, format, args...)
}

// Wrap adds a top-level message while preserving the category and status of
// the underlying protocol error. Non-protocol causes are classified as
// server errors.
func Wrap(message string, err error) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	code := CodeServerError
	if errors.As(err, &inner) {
		code = inner.Code
	}
	return &Error{
		Status:  statusByCode[code],
		Code:    code,
		Message: message,
		cause:   err,
	}
}

// AsError coerces any error into a protocol error, defaulting to a generic
// server error for unclassified causes.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeServerError,
		Message: "internal server error",
		cause:   err,
	}
}
