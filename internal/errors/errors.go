// Package errors provides error code definitions for the timetable core.
package errors

import "fmt"

// ErrorCode represents a stable, machine-readable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncAuthRequired  ErrorCode = "SYNC_AUTH_REQUIRED"
	ErrSyncOffline       ErrorCode = "SYNC_OFFLINE"
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteRejected    ErrorCode = "REMOTE_REJECTED"

	// Backup errors
	ErrExportFailed ErrorCode = "EXPORT_FAILED"
	ErrImportFailed ErrorCode = "IMPORT_FAILED"

	// Notification errors
	ErrNotifyDispatch ErrorCode = "NOTIFY_DISPATCH_FAILED"
)

// AppError represents an application error with code and message.
// Retryable marks failures that a later sync cycle may resolve
// (network unavailable, timeouts) as opposed to terminal rejections
// the remote store will never accept.
type AppError struct {
	Code      ErrorCode
	Message   string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Transient wraps an error as a retryable failure.
func Transient(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Retryable: true}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether a later attempt may succeed. Errors that
// are not AppErrors carry no classification and are treated as
// retryable, matching the queue's at-least-once contract.
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return true
}
