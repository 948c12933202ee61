// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown           = "UNKNOWN_ERROR"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeWorkerFailed      = "WORKER_FAILED"
	CodeResultCorrupt     = "RESULT_CORRUPT"
	CodeArtifactIO        = "ARTIFACT_IO"
	CodeIndexError        = "INDEX_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeHasDependents     = "HAS_DEPENDENTS"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeConfigError       = "CONFIG_ERROR"
	CodeMirrorError       = "MIRROR_ERROR"
	CodeStorageError      = "STORAGE_ERROR"
	CodeVerifyFailed      = "VERIFY_FAILED"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
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

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps err with a formatted message.
func Wrapf(code string, err error, format string, args ...interface{}) *AppError {
	return Wrap(code, fmt.Sprintf(format, args...), err)
}

// Common error instances, usable as errors.Is targets.
var (
	ErrUnsupportedFormat = New(CodeUnsupportedFormat, "format not supported")
	ErrWorkerFailed      = New(CodeWorkerFailed, "worker process failed")
	ErrResultCorrupt     = New(CodeResultCorrupt, "worker result unreadable")
	ErrArtifactIO        = New(CodeArtifactIO, "artifact i/o failure")
	ErrIndexError        = New(CodeIndexError, "guid index error")
	ErrNotFound          = New(CodeNotFound, "resource not found")
	ErrHasDependents     = New(CodeHasDependents, "asset still has dependents")
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrConfigError       = New(CodeConfigError, "configuration error")
	ErrMirrorError       = New(CodeMirrorError, "mirror error")
	ErrStorageError      = New(CodeStorageError, "storage error")
)

// IsArtifactIO checks if the error is a run-fatal artifact i/o error.
func IsArtifactIO(err error) bool {
	return errors.Is(err, ErrArtifactIO)
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsHasDependents checks if the error reports live dependents blocking a deletion.
func IsHasDependents(err error) bool {
	return errors.Is(err, ErrHasDependents)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
