// Package errors provides the structured error system of the page cache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for page cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Page domain errors, reported by page stores and passed through unchanged
	ErrCodePageNotFound      ErrorCode = "PAGE_NOT_FOUND"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"

	// I/O infrastructure errors
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeWorkerBusy       ErrorCode = "WORKER_BUSY"
	ErrCodeStorageIO        ErrorCode = "STORAGE_IO"

	// State Management Errors
	ErrCodeComponentStopped   ErrorCode = "COMPONENT_STOPPED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDomain        ErrorCategory = "domain"
	CategoryIO            ErrorCategory = "io"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is. They match any error carrying the same code
// (or, for ErrIO, the same category) and must never be mutated.
var (
	ErrPageNotFound      = &PageCacheError{Code: ErrCodePageNotFound, Category: CategoryDomain, Message: "page not found"}
	ErrResourceExhausted = &PageCacheError{Code: ErrCodeResourceExhausted, Category: CategoryDomain, Message: "resource exhausted"}
	ErrInvalidArgument   = &PageCacheError{Code: ErrCodeInvalidArgument, Category: CategoryDomain, Message: "invalid argument"}
	ErrTimeout           = &PageCacheError{Code: ErrCodeOperationTimeout, Category: CategoryIO, Message: "operation timed out"}
	ErrRejected          = &PageCacheError{Code: ErrCodeWorkerBusy, Category: CategoryIO, Message: "rejected: pool saturated"}
	ErrCanceled          = &PageCacheError{Code: ErrCodeOperationCanceled, Category: CategoryOperation, Message: "operation canceled"}
	ErrUnavailable       = &PageCacheError{Code: ErrCodeServiceUnavailable, Category: CategoryState, Message: "service unavailable"}

	// ErrIO matches every infrastructure failure.
	ErrIO = &PageCacheError{Category: CategoryIO, Message: "i/o failure"}
)

// PageCacheError represents a structured error with context and metadata.
type PageCacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *PageCacheError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *PageCacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
// A target without a code matches on category.
func (e *PageCacheError) Is(target error) bool {
	t, ok := target.(*PageCacheError)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Category != "" && e.Category == t.Category
	}
	return e.Code == t.Code
}

// String returns a detailed string representation for logging.
func (e *PageCacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("PageCacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *PageCacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new page cache error with default values.
func NewError(code ErrorCode, message string) *PageCacheError {
	return &PageCacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodePageNotFound, ErrCodeResourceExhausted, ErrCodeInvalidArgument:
		return CategoryDomain
	case ErrCodeOperationTimeout, ErrCodeWorkerBusy, ErrCodeStorageIO:
		return CategoryIO
	case ErrCodeComponentStopped, ErrCodeServiceUnavailable:
		return CategoryState
	case ErrCodeOperationCanceled:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeOperationTimeout, ErrCodeWorkerBusy, ErrCodeStorageIO,
		ErrCodeResourceExhausted, ErrCodeServiceUnavailable:
		return true
	}
	return false
}

// WithContext adds contextual information to an error
func (e *PageCacheError) WithContext(key, value string) *PageCacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *PageCacheError) WithDetail(key string, value interface{}) *PageCacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *PageCacheError) WithComponent(component string) *PageCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *PageCacheError) WithOperation(operation string) *PageCacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *PageCacheError) WithCause(cause error) *PageCacheError {
	e.Cause = cause
	return e
}

// PageNotFound reports a missing page.
func PageNotFound(page string) *PageCacheError {
	return NewError(ErrCodePageNotFound, "page not found").WithContext("page_id", page)
}

// ResourceExhausted reports that local media cannot accept more data.
func ResourceExhausted(page string, cause error) *PageCacheError {
	return NewError(ErrCodeResourceExhausted, "resource exhausted").
		WithContext("page_id", page).
		WithCause(cause)
}

// InvalidArgument reports a malformed request.
func InvalidArgument(format string, args ...interface{}) *PageCacheError {
	return NewError(ErrCodeInvalidArgument, fmt.Sprintf(format, args...))
}

// StorageIO wraps an unclassified failure of the underlying store.
func StorageIO(cause error) *PageCacheError {
	return NewError(ErrCodeStorageIO, "page store i/o failure").WithCause(cause)
}

// IsPageNotFound reports whether err is, or wraps, a page-not-found failure.
func IsPageNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

// IsResourceExhausted reports whether err is, or wraps, a resource-exhausted failure.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// IsDomain reports whether err is an expected page store condition that
// must reach callers unchanged.
func IsDomain(err error) bool {
	var pe *PageCacheError
	return errors.As(err, &pe) && pe.Category == CategoryDomain
}

// IsInfrastructure reports whether err signals backend distress (timeout,
// saturation or an unclassified i/o failure).
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrIO)
}
