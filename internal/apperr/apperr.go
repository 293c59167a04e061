// Package apperr defines the error taxonomy shared by the entitlement layer,
// the admin guard and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotFound     = errors.New("not found")
	ErrUpstream     = errors.New("upstream failure")
	ErrPersistence  = errors.New("persistence failure")
)

// ErrorType represents the category of error
type ErrorType string

const (
	TypeValidation  ErrorType = "validation"
	TypeAuth        ErrorType = "auth"
	TypeForbidden   ErrorType = "forbidden"
	TypeConflict    ErrorType = "conflict"
	TypeRateLimited ErrorType = "rate_limited"
	TypeNotFound    ErrorType = "not_found"
	TypeUpstream    ErrorType = "upstream"
	TypePersistence ErrorType = "persistence"
)

// Error is a structured error carrying enough context to render an HTTP response.
type Error struct {
	Type    ErrorType
	Op      string // operation that failed (e.g., "entitlement.update_by_customer")
	Code    string // machine-readable code returned to clients
	Message string // human message returned to clients
	Err     error  // underlying error, never rendered

	// Status overrides the default HTTP status for the type when non-zero.
	Status     int
	RetryAfter time.Duration
	Limit      *int
	Used       *int
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.code(), e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.code(), e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.code())
	default:
		return e.code()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrValidation:
		return e.Type == TypeValidation
	case ErrUnauthorized:
		return e.Type == TypeAuth
	case ErrForbidden:
		return e.Type == TypeForbidden
	case ErrConflict:
		return e.Type == TypeConflict
	case ErrRateLimited:
		return e.Type == TypeRateLimited
	case ErrNotFound:
		return e.Type == TypeNotFound
	case ErrUpstream:
		return e.Type == TypeUpstream
	case ErrPersistence:
		return e.Type == TypePersistence
	}
	return false
}

func (e *Error) code() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Type)
}

// HTTPStatus returns the status code the error renders with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeAuth:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeNotFound:
		return http.StatusNotFound
	case TypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	switch e.Type {
	case TypeRateLimited, TypePersistence:
		return true
	case TypeUpstream:
		return e.HTTPStatus() >= 500
	default:
		return false
	}
}

// Helper functions

// Validation builds a 400 error with a client-facing code and message.
func Validation(code, message string) *Error {
	return &Error{Type: TypeValidation, Code: code, Message: message}
}

// Unauthorized builds a 401 error.
func Unauthorized(message string) *Error {
	return &Error{Type: TypeAuth, Code: "unauthorized", Message: message}
}

// Forbidden builds a 403 error with a client-facing code.
func Forbidden(code, message string) *Error {
	return &Error{Type: TypeForbidden, Code: code, Message: message}
}

// Conflict builds a 409 error.
func Conflict(code, message string) *Error {
	return &Error{Type: TypeConflict, Code: code, Message: message}
}

// RateLimited builds a 429 error; retryAfter is rendered as whole seconds, at least 1.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Type: TypeRateLimited, Code: "rate_limited", Message: "too many requests", RetryAfter: retryAfter}
}

// NotFound builds a 404 error for op.
func NotFound(op, message string) *Error {
	return &Error{Type: TypeNotFound, Op: op, Code: "not_found", Message: message}
}

// Upstream wraps a payment provider failure. callerFault selects 400 over 502.
func Upstream(op string, err error, callerFault bool) *Error {
	e := &Error{Type: TypeUpstream, Op: op, Code: "upstream_error", Message: "payment provider request failed", Err: err}
	if callerFault {
		e.Status = http.StatusBadRequest
	}
	return e
}

// Persistence wraps a store failure. The underlying error is logged, never rendered.
func Persistence(op string, err error) *Error {
	return &Error{Type: TypePersistence, Op: op, Code: "internal_error", Message: "internal server error", Err: err}
}

// As extracts the structured error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err is a structured error of type t.
func IsType(err error, t ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == t
}
