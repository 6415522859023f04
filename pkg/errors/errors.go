// Package errors provides a structured error system for iconcache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for iconcache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Resolution Errors
	ErrCodeIconNotFound ErrorCode = "ICON_NOT_FOUND"
	ErrCodeIconEmpty    ErrorCode = "ICON_EMPTY"

	// Codec Errors
	ErrCodeDecodeFailed ErrorCode = "CODEC_DECODE_FAILED"
	ErrCodeEncodeFailed ErrorCode = "CODEC_ENCODE_FAILED"

	// Storage Errors
	ErrCodeStorageRead        ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite       ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeIndexCorrupt       ErrorCode = "STORAGE_INDEX_CORRUPT"

	// Resource Errors
	ErrCodeRendererFailed ErrorCode = "RESOURCE_RENDERER_FAILED"
	ErrCodeWorkerBusy     ErrorCode = "WORKER_BUSY"

	// State Errors
	ErrCodePreloadBusy      ErrorCode = "ALREADY_PRELOADING"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationNotFound ErrorCode = "OPERATION_NOT_FOUND"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal System Errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryResolution    ErrorCategory = "resolution"
	CategoryCodec         ErrorCategory = "codec"
	CategoryStorage       ErrorCategory = "storage"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// IconCacheError represents a structured error with context and metadata.
type IconCacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Recoverable errors are absorbed by the tier that raised them.
	Recoverable bool `json:"recoverable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *IconCacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *IconCacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *IconCacheError) Is(target error) bool {
	if t, ok := target.(*IconCacheError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *IconCacheError) String() string {
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
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("IconCacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with default values.
func NewError(code ErrorCode, message string) *IconCacheError {
	return &IconCacheError{
		Code:        code,
		Category:    GetCategory(code),
		Message:     message,
		Timestamp:   time.Now(),
		Details:     make(map[string]interface{}),
		Context:     make(map[string]string),
		Recoverable: IsRecoverableByDefault(code),
	}
}

// Wrap creates a new error with code and message around cause.
func Wrap(cause error, code ErrorCode, message string) *IconCacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "ICON_"):
		return CategoryResolution
	case strings.HasPrefix(codeStr, "CODEC_"):
		return CategoryCodec
	case strings.HasPrefix(codeStr, "STORAGE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "RESOURCE_") || strings.HasPrefix(codeStr, "WORKER_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRecoverableByDefault reports whether errors with code are handled
// inside the component that raised them.
func IsRecoverableByDefault(code ErrorCode) bool {
	switch GetCategory(code) {
	case CategoryResolution, CategoryCodec, CategoryStorage, CategoryResource:
		return true
	}
	return code == ErrCodePreloadBusy
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *IconCacheError) WithContext(key, value string) *IconCacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *IconCacheError) WithDetail(key string, value interface{}) *IconCacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *IconCacheError) WithComponent(component string) *IconCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *IconCacheError) WithOperation(operation string) *IconCacheError {
	e.Operation = operation
	return e
}

// WithRequestID sets the request the error belongs to
func (e *IconCacheError) WithRequestID(id string) *IconCacheError {
	e.RequestID = id
	return e
}

// WithCause sets the underlying cause
func (e *IconCacheError) WithCause(cause error) *IconCacheError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *IconCacheError) WithStack() *IconCacheError {
	e.Stack = CaptureStack(2)
	return e
}

// UserFacingMessage returns the human-readable string placed on a failed
// request handle.
func (e *IconCacheError) UserFacingMessage() string {
	switch e.Code {
	case ErrCodeIconNotFound, ErrCodeIconEmpty:
		if name, ok := e.Context["icon"]; ok {
			return fmt.Sprintf("Failed to load icon: %s", name)
		}
		return "Failed to load icon"
	case ErrCodeComponentStopped:
		return "Icon loader is shut down"
	}
	return e.Message
}

// CodeOf returns the code of the first IconCacheError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ice *IconCacheError
	if errors.As(err, &ice) {
		return ice.Code, true
	}
	return "", false
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &IconCacheError{Code: code})
}
