// Package errors provides structured error handling for scanward operations.
// It defines error codes, error types, and utilities for creating and
// inspecting errors with context across the scan lifecycle.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Scan lifecycle errors.
	CodeNotStartable   ErrorCode = "NOT_STARTABLE"
	CodeNotCancellable ErrorCode = "NOT_CANCELLABLE"
	CodeTargetBusy     ErrorCode = "TARGET_BUSY"

	// Adapter errors.
	CodeUnsupportedTarget ErrorCode = "UNSUPPORTED_TARGET"
	CodeNoContent         ErrorCode = "NO_CONTENT_FOR_PLATFORM"
	CodeUnknownScanner    ErrorCode = "UNKNOWN_SCANNER"
	CodeExecutionFailed   ErrorCode = "EXECUTION_FAILED"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Notification errors.
	CodeTransport ErrorCode = "TRANSPORT"
)

// Sentinel errors for lifecycle precondition failures. These signal a no-op
// to the caller rather than an exceptional condition.
var (
	// ErrNotStartable is returned by Start when the scan is missing or not pending.
	ErrNotStartable = errors.New("scan not found or not startable")
	// ErrNotCancellable is returned by Cancel when the scan is missing or terminal.
	ErrNotCancellable = errors.New("scan not found or not cancellable")
)

// ScanError represents an error that occurred during scan execution.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Scanner string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// ValidationError represents bad input to a create or schedule operation.
// The operation is rejected before anything is persisted.
type ValidationError struct {
	Message string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", CodeValidation, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", CodeValidation, e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NewValidationFieldError creates a validation error for a specific field.
func NewValidationFieldError(message, field string) *ValidationError {
	return &ValidationError{Message: message, Field: field}
}

// WrapValidationError wraps an existing error as a validation error.
func WrapValidationError(message string, err error) *ValidationError {
	return &ValidationError{Message: message, Cause: err}
}

// DatabaseError represents database-related errors. Messages are sanitized
// so raw SQL details and credentials never reach callers.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{Code: code, Message: message}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Code
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CodeValidation
	}
	return CodeUnknown
}

// IsValidation reports whether the error is a validation failure.
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// Common error constructors.

// ErrUnsupportedTargetKind creates an error for targets an adapter cannot scan.
func ErrUnsupportedTargetKind(kind string) *ScanError {
	return NewScanError(CodeUnsupportedTarget, fmt.Sprintf("only container targets are supported, got %q", kind))
}

// ErrNoContentForPlatform creates an error for platforms without compliance content.
func ErrNoContentForPlatform(osFamily string) *ScanError {
	return NewScanError(CodeNoContent, fmt.Sprintf("no SCAP datastream for OS: %s", osFamily))
}

// ErrUnknownScanner creates an error for unrecognized scanner kinds.
func ErrUnknownScanner(kind string) *ScanError {
	return NewScanError(CodeUnknownScanner, fmt.Sprintf("unknown scanner: %s", kind))
}

// ErrScanTimeout creates an error for adapter execution timeouts.
func ErrScanTimeout(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTimeout, "Scan timeout", target)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}
