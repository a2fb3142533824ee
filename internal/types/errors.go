package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for LOTUS kernel errors.
type ErrorCode string

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Module lifecycle error codes
const (
	MODULE_MANIFEST_INVALID   ErrorCode = "MODULE_MANIFEST_INVALID"
	MODULE_MANIFEST_NOT_FOUND ErrorCode = "MODULE_MANIFEST_NOT_FOUND"
	MODULE_CYCLE_DETECTED     ErrorCode = "MODULE_CYCLE_DETECTED"
	MODULE_NOT_FOUND          ErrorCode = "MODULE_NOT_FOUND"
	MODULE_INIT_FAILED        ErrorCode = "MODULE_INIT_FAILED"
	MODULE_NOT_RELOADABLE     ErrorCode = "MODULE_NOT_RELOADABLE"
	MODULE_QUARANTINED        ErrorCode = "MODULE_QUARANTINED"
	SUPERVISOR_HALTED         ErrorCode = "SUPERVISOR_HALTED"
)

// Event bus error codes
const (
	BUS_CLOSED          ErrorCode = "BUS_CLOSED"
	BUS_INVALID_TOPIC   ErrorCode = "BUS_INVALID_TOPIC"
	BUS_INVALID_PATTERN ErrorCode = "BUS_INVALID_PATTERN"
	BUS_REQUEST_TIMEOUT ErrorCode = "BUS_REQUEST_TIMEOUT"
	HANDLER_PANIC       ErrorCode = "HANDLER_PANIC"
)

// Storage error codes
const (
	DB_OPEN_FAILED      ErrorCode = "DB_OPEN_FAILED"
	DB_MIGRATION_FAILED ErrorCode = "DB_MIGRATION_FAILED"
	DB_QUERY_FAILED     ErrorCode = "DB_QUERY_FAILED"
)

// Memory subsystem error codes
const (
	MEMORY_ITEM_INVALID  ErrorCode = "MEMORY_ITEM_INVALID"
	MEMORY_DUPLICATE_ID  ErrorCode = "MEMORY_DUPLICATE_ID"
	MEMORY_NOT_FOUND     ErrorCode = "MEMORY_NOT_FOUND"
	TIER_UNAVAILABLE     ErrorCode = "TIER_UNAVAILABLE"
	TIER_TIMEOUT         ErrorCode = "TIER_TIMEOUT"
	EMBEDDING_FAILED     ErrorCode = "EMBEDDING_FAILED"
	CONSOLIDATION_FAILED ErrorCode = "CONSOLIDATION_FAILED"
)

// LotusError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type LotusError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *LotusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *LotusError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a LotusError with the same Code.
func (e *LotusError) Is(target error) bool {
	var lotusErr *LotusError
	if errors.As(target, &lotusErr) {
		return e.Code == lotusErr.Code
	}
	return false
}

// NewError creates a new non-retryable LotusError with the given code and message.
func NewError(code ErrorCode, message string) *LotusError {
	return &LotusError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a new retryable LotusError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., timeouts).
func NewRetryableError(code ErrorCode, message string) *LotusError {
	return &LotusError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable LotusError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *LotusError {
	return &LotusError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapRetryableError creates a retryable LotusError that wraps an existing error.
// Use this for transient failures of an external dependency.
func WrapRetryableError(code ErrorCode, message string, cause error) *LotusError {
	return &LotusError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// IsRetryable reports whether err (or any error in its chain) is a retryable LotusError.
func IsRetryable(err error) bool {
	var lotusErr *LotusError
	if errors.As(err, &lotusErr) {
		return lotusErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or returns an empty code if err
// is not a LotusError.
func CodeOf(err error) ErrorCode {
	var lotusErr *LotusError
	if errors.As(err, &lotusErr) {
		return lotusErr.Code
	}
	return ""
}
