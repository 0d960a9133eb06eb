package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the data layer.
type ErrorCode string

// Connection error codes
const (
	ErrNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrUnreachable    ErrorCode = "UNREACHABLE"
	ErrAuthFailed     ErrorCode = "AUTH_FAILED"
	ErrPoolExhausted  ErrorCode = "POOL_EXHAUSTED"
	ErrAlreadyOpen    ErrorCode = "ALREADY_OPEN"
	ErrClosed         ErrorCode = "CLOSED"
)

// Query error codes
const (
	ErrQueryFailed         ErrorCode = "QUERY_FAILED"
	ErrConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	ErrRecordNotFound      ErrorCode = "RECORD_NOT_FOUND"
	ErrDuplicateRecord     ErrorCode = "DUPLICATE_RECORD"
)

// Cache error codes (internal only; cache failures never reach callers)
const (
	ErrCacheMiss        ErrorCode = "CACHE_MISS"
	ErrCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
)

// Migration error codes
const (
	ErrBackupFailed         ErrorCode = "BACKUP_FAILED"
	ErrApplyFailed          ErrorCode = "APPLY_FAILED"
	ErrVerificationMismatch ErrorCode = "VERIFICATION_MISMATCH"
	ErrMigrationLocked      ErrorCode = "MIGRATION_LOCKED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
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

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
