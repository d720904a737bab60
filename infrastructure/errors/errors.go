// Package errors provides unified error handling across the gateway: a
// structured ServiceError (code, message, HTTP status, details) plus
// constructors for every category in the delivery failure taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
)

// ErrorCode is a unique, stable identifier for a ServiceError.
type ErrorCode string

const (
	// Authentication/authorization
	ErrCodeUnauthorized  ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken  ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired  ErrorCode = "AUTH_1003"
	ErrCodeInvalidSignature ErrorCode = "AUTH_1004"
	ErrCodeForbidden     ErrorCode = "AUTHZ_2001"

	// Validation
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"

	// Resource
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Delivery/service (mirrors domain.ErrorCategory)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeNetwork           ErrorCode = "SVC_5003"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"
	ErrCodeTransformFailed   ErrorCode = "SVC_5007"
	ErrCodeScriptTimeout     ErrorCode = "SVC_5008"
)

// ServiceError is a structured error with code, message, HTTP status and an
// optional wrapped cause.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Category   domain.ErrorCategory   `json:"category,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a diagnostic key/value pair.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a bare ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError around an existing cause.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// WithCategory creates a ServiceError already classified for DLQ routing.
func WithCategory(category domain.ErrorCategory, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       categoryCode(category),
		Message:    message,
		HTTPStatus: httpStatus,
		Category:   category,
		Err:        err,
	}
}

func categoryCode(c domain.ErrorCategory) ErrorCode {
	switch c {
	case domain.CategoryNetwork:
		return ErrCodeNetwork
	case domain.CategoryTimeout:
		return ErrCodeTimeout
	case domain.CategoryAuth:
		return ErrCodeUnauthorized
	case domain.CategoryRateLimited:
		return ErrCodeRateLimitExceeded
	case domain.CategoryTransform:
		return ErrCodeTransformFailed
	case domain.CategoryValidation:
		return ErrCodeInvalidInput
	default:
		return ErrCodeInternal
	}
}

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "authentication token has expired", http.StatusUnauthorized)
}

func InvalidSignature(err error) *ServiceError {
	return Wrap(ErrCodeInvalidSignature, "invalid signature", http.StatusUnauthorized, err)
}

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func ExternalAPIError(targetURL string, err error) *ServiceError {
	return WithCategory(domain.CategoryNetwork, "external API call failed", http.StatusBadGateway, err).
		WithDetails("targetUrl", targetURL)
}

func Timeout(operation string) *ServiceError {
	return WithCategory(domain.CategoryTimeout, "operation timed out", http.StatusGatewayTimeout, nil).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return WithCategory(domain.CategoryRateLimited, "rate limit exceeded", http.StatusTooManyRequests, nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func TransformFailed(err error) *ServiceError {
	return WithCategory(domain.CategoryTransform, "transform failed", http.StatusUnprocessableEntity, err)
}

func ScriptTimeout(scriptKind string) *ServiceError {
	return New(ErrCodeScriptTimeout, "script execution timed out", http.StatusGatewayTimeout).
		WithDetails("scriptKind", scriptKind)
}

// IsServiceError reports whether err is, or wraps, a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus resolves the HTTP status for any error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Classify maps a generic error (e.g. from an outbound HTTP dispatch) to a
// domain.ErrorCategory for DLQ routing when it isn't already a
// ServiceError with an explicit Category.
func Classify(err error, statusCode int) domain.ErrorCategory {
	if se := GetServiceError(err); se != nil && se.Category != "" {
		return se.Category
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.CategoryRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.CategoryAuth
	case statusCode == http.StatusRequestTimeout || errors.Is(err, ErrDeadlineExceeded):
		return domain.CategoryTimeout
	case statusCode >= 500:
		return domain.CategoryServerError
	case statusCode >= 400:
		return domain.CategoryClientError
	case err != nil:
		return domain.CategoryNetwork
	default:
		return domain.CategoryUnknown
	}
}

// ErrDeadlineExceeded is a sentinel wrapped around context.DeadlineExceeded
// occurrences so Classify can recognize timeouts without importing net/http
// round-tripper internals.
var ErrDeadlineExceeded = errors.New("deadline exceeded")
