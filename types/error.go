package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across campaignflow.
type ErrorCode string

// Generic error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Workflow error codes
const (
	ErrWorkflowNotFound   ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrGraphNotFound      ErrorCode = "GRAPH_NOT_FOUND"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrGraphConfig        ErrorCode = "GRAPH_CONFIG"
	ErrStageFailed        ErrorCode = "STAGE_FAILED"
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrWorkflowAborted    ErrorCode = "WORKFLOW_ABORTED"
	ErrCapacityExceeded   ErrorCode = "CAPACITY_EXCEEDED"
)

// Vendor routing error codes
const (
	ErrNoEligibleVendor ErrorCode = "NO_ELIGIBLE_VENDOR"
	ErrAllVendorsFailed ErrorCode = "ALL_VENDORS_FAILED"
	ErrVendorNotFound   ErrorCode = "VENDOR_NOT_FOUND"
	ErrQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	ErrVendorCall       ErrorCode = "VENDOR_CALL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Vendor     string    `json:"vendor,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithVendor sets the vendor id.
func (e *Error) WithVendor(vendor string) *Error {
	e.Vendor = vendor
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatusFor 将错误码映射为 HTTP 状态码，显式设置的 HTTPStatus 优先
func HTTPStatusFor(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Code {
	case ErrInvalidRequest, ErrGraphConfig:
		return http.StatusBadRequest
	case ErrNotFound, ErrWorkflowNotFound, ErrGraphNotFound, ErrVendorNotFound, ErrCheckpointNotFound:
		return http.StatusNotFound
	case ErrInvalidTransition:
		return http.StatusConflict
	case ErrRateLimited, ErrQuotaExceeded, ErrCapacityExceeded:
		return http.StatusTooManyRequests
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrUpstreamError, ErrVendorCall, ErrAllVendorsFailed:
		return http.StatusBadGateway
	case ErrServiceUnavailable, ErrNoEligibleVendor:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
