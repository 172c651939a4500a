// Package errors provides custom error types and error handling utilities.
// Following Go idioms, errors are values that carry context about what went wrong.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for the application. These can be checked with
// errors.Is() for specific error handling, and correspond to the error
// taxonomy the orchestrator and HTTP boundary use to decide status codes
// and terminal task states.
var (
	// ErrNotFound indicates a task, file, or other resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInputInvalid indicates a malformed URL, unknown provider, or malformed task id.
	ErrInputInvalid = errors.New("invalid input")

	// ErrLockConflict indicates the user already has an active download.
	ErrLockConflict = errors.New("user already has an active download")

	// ErrNotReady indicates delivery was requested before the task reached COMPLETED.
	ErrNotReady = errors.New("task not ready for delivery")

	// ErrProviderFailure indicates a transient or permanent upstream scrape/download error.
	ErrProviderFailure = errors.New("provider failure")

	// ErrCanceled indicates the cancel flag was observed by the worker.
	ErrCanceled = errors.New("canceled by user")

	// ErrPipelineFailure indicates the media tool exited non-zero.
	ErrPipelineFailure = errors.New("media pipeline failure")

	// ErrUnsupportedPlatform indicates the URL's provider is not registered.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// AppError is a structured error type that carries additional context.
type AppError struct {
	Op      string // Operation that failed (e.g., "Orchestrator.StartDownload")
	Err     error  // Underlying error
	Message string // User-friendly message
	Code    string // Error code for API clients
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with wrapped errors.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given operation and error.
func New(op string, err error) *AppError {
	return &AppError{Op: op, Err: err}
}

// NewWithMessage creates a new AppError with a user-friendly message.
func NewWithMessage(op string, err error, message string) *AppError {
	return &AppError{Op: op, Err: err, Message: message}
}

// Wrap wraps an existing error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err}
}

// WrapWithMessage wraps an error with a user-friendly message.
func WrapWithMessage(op string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Err: err, Message: message}
}

// IsNotFound checks if an error is a "not found" error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCanceled checks if an error is a cancellation error.
func IsCanceled(err error) bool { return errors.Is(err, ErrCanceled) }

// IsLockConflict checks if an error is a lock-conflict error.
func IsLockConflict(err error) bool { return errors.Is(err, ErrLockConflict) }

// IsNotReady checks if an error is a not-ready-for-delivery error.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// HTTPStatus maps an error taxonomy member to the HTTP status the API
// boundary should answer with. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInputInvalid), errors.Is(err, ErrUnsupportedPlatform):
		return http.StatusBadRequest
	case errors.Is(err, ErrLockConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReady):
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}
