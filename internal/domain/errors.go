package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"         // Invalid input or malformed event
	EUNAUTHORIZED = "unauthorized"    // Authentication required
	EFORBIDDEN    = "forbidden"       // Permission denied
	ENOTFOUND     = "not_found"       // Resource not found
	ECONFLICT     = "conflict"        // Resource conflict (e.g., duplicate)
	EQUOTA        = "quota_exceeded"  // No quota units remaining
	EDUPLICATE    = "duplicate_event" // Billing event already applied
	ESTALE        = "stale_event"     // Billing event older than last applied
	ECONTENTION   = "contention"      // Storage contention, retryable
	ERATELIMIT    = "rate_limit"      // Rate limit exceeded
	EINTERNAL     = "internal"        // Internal server error
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "booking.request")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// QuotaExceeded creates a quota exceeded error. This is the only admission
// failure surfaced to end users.
func QuotaExceeded(op string) *Error {
	return &Error{
		Code:    EQUOTA,
		Op:      op,
		Message: "No class sessions remaining this week.",
	}
}

// Contention creates a transient storage contention error. Callers retry a
// bounded number of times before surfacing it.
func Contention(err error, op string) *Error {
	return &Error{
		Code:    ECONTENTION,
		Op:      op,
		Message: "The account is being updated concurrently. Please try again.",
		Err:     err,
	}
}

// IsRetryable reports whether the error is transient storage contention.
func IsRetryable(err error) bool {
	return ErrorCode(err) == ECONTENTION
}
