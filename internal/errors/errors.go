// Package errors defines the service error taxonomy shared across the
// app platform. Every failure surfaced to a caller is a ServiceError
// with a stable code and an HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class.
type Code string

const (
	CodeValidation    Code = "validation_error"
	CodeLoad          Code = "load_error"
	CodeSecurity      Code = "security_rejection"
	CodeAuthorization Code = "authorization_error"
	CodeUnauthorized  Code = "unauthorized"
	CodeQuota         Code = "quota_exceeded"
	CodeExecution     Code = "execution_error"
	CodeTimeout       Code = "timeout_error"
	CodeNotFound      Code = "not_found"
	CodeUnavailable   Code = "service_unavailable"
	CodeInternal      Code = "internal_error"
)

// ServiceError is the canonical error type for the platform.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// Validation reports a manifest or input validation failure.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Load reports an unreadable or undecodable script reference.
func Load(message string, cause error) *ServiceError {
	return newError(CodeLoad, http.StatusBadRequest, message, cause)
}

// Security reports a static-inspection violation.
func Security(message string) *ServiceError {
	return newError(CodeSecurity, http.StatusBadRequest, message, nil)
}

// Forbidden reports an RPC or dispatch policy violation.
func Forbidden(message string) *ServiceError {
	return newError(CodeAuthorization, http.StatusForbidden, message, nil)
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// NotFound reports a missing revision, workspace or resource.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// Execution reports a handler failure inside the sandbox.
func Execution(message string, cause error) *ServiceError {
	return newError(CodeExecution, http.StatusInternalServerError, message, cause)
}

// Timeout reports an exceeded sandbox budget. It is a distinct class so
// callers never conflate it with an ordinary handler failure.
func Timeout(message string) *ServiceError {
	return newError(CodeTimeout, http.StatusGatewayTimeout, message, nil)
}

// Unavailable reports an operation whose backing dependency is not
// configured on this node, such as a remote provider with external
// network access disabled.
func Unavailable(message string) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, nil)
}

// Internal reports an unexpected platform failure.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// QuotaExceeded reports a rate or usage limit hit. The limiting
// dimension is always part of the error details.
func QuotaExceeded(dimension string, used, requested, limit int64) *ServiceError {
	e := newError(CodeQuota, http.StatusTooManyRequests,
		fmt.Sprintf("quota exceeded for %s", dimension), nil)
	e.WithDetails("dimension", dimension)
	e.WithDetails("used", used)
	e.WithDetails("requested", requested)
	e.WithDetails("limit", limit)
	return e
}

// WorkspaceValidationFailed reports an apply attempt against a
// workspace that is not validated or still carries blocking issues.
func WorkspaceValidationFailed(issues interface{}) *ServiceError {
	e := newError(Code("workspace_validation_failed"), http.StatusBadRequest,
		"workspace validation failed", nil)
	if issues != nil {
		e.WithDetails("issues", issues)
	}
	return e
}

// RateLimitExceeded reports an HTTP-level rate limit hit.
func RateLimitExceeded(limit int, window string) *ServiceError {
	e := newError(CodeQuota, http.StatusTooManyRequests, "rate limit exceeded", nil)
	e.WithDetails("limit", limit)
	e.WithDetails("window", window)
	return e
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the status for any error, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
