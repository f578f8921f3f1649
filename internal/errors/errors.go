package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found (or is soft-deleted).
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., duplicate merchant reference or report).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInvalidTransition indicates a disallowed job state edge.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	// ErrCodeRateLimited indicates a verification throttling threshold was crossed.
	ErrCodeRateLimited ErrorCode = "rate_limited"
	// ErrCodeExpired indicates the job is past its expiry timestamp.
	ErrCodeExpired ErrorCode = "expired"
	// ErrCodeTransientProvider indicates a retryable upstream provider failure.
	ErrCodeTransientProvider ErrorCode = "transient_provider"
	// ErrCodePermanentProvider indicates a non-retryable upstream provider failure.
	ErrCodePermanentProvider ErrorCode = "permanent_provider"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// InvalidTransition creates a new InvalidTransition error.
func InvalidTransition(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: message}
}

// InvalidTransitionf creates a new InvalidTransition error with formatted message.
func InvalidTransitionf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// RateLimited creates a new RateLimited error.
func RateLimited(message string) *AppError {
	return &AppError{Code: ErrCodeRateLimited, Message: message}
}

// Expired creates a new Expired error.
func Expired(message string) *AppError {
	return &AppError{Code: ErrCodeExpired, Message: message}
}

// TransientProvider creates a new TransientProvider error wrapping the upstream cause.
func TransientProvider(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeTransientProvider, Message: message, Cause: cause}
}

// PermanentProvider creates a new PermanentProvider error wrapping the upstream cause.
func PermanentProvider(message string, cause error) *AppError {
	return &AppError{Code: ErrCodePermanentProvider, Message: message, Cause: cause}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInvalidTransition checks if an error is an InvalidTransition error.
func IsInvalidTransition(err error) bool {
	return isCode(err, ErrCodeInvalidTransition)
}

// IsRateLimited checks if an error is a RateLimited error.
func IsRateLimited(err error) bool {
	return isCode(err, ErrCodeRateLimited)
}

// IsExpired checks if an error is an Expired error.
func IsExpired(err error) bool {
	return isCode(err, ErrCodeExpired)
}

// IsTransientProvider checks if an error is a TransientProvider error.
func IsTransientProvider(err error) bool {
	return isCode(err, ErrCodeTransientProvider)
}

// IsPermanentProvider checks if an error is a PermanentProvider error.
func IsPermanentProvider(err error) bool {
	return isCode(err, ErrCodePermanentProvider)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
