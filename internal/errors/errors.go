package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a relay error code.
type ErrorCode string

const (
	ErrFormat             ErrorCode = "FORMAT_ERROR"        // malformed user input, re-prompt
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"   // role or membership check failed
	ErrMalformedToken     ErrorCode = "MALFORMED_TOKEN"     // decision control payload unreadable
	ErrTransportTransient ErrorCode = "TRANSPORT_TRANSIENT" // network / flood control, retryable
	ErrTransportPermanent ErrorCode = "TRANSPORT_PERMANENT" // retries exhausted
	ErrEmptySubmission    ErrorCode = "EMPTY_SUBMISSION"    // submission without items
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrInternal           ErrorCode = "INTERNAL"
)

// RelayError represents a structured error with code and details.
type RelayError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// NewFormat creates an error for user input that does not match the expected shape.
func NewFormat(msg string) *RelayError {
	return &RelayError{
		Code:    ErrFormat,
		Message: msg,
	}
}

// NewPermissionDenied creates an error for a failed role or membership check.
// reason is one of "role", "not_member", "membership_unknown".
func NewPermissionDenied(userID int64, reason string) *RelayError {
	return &RelayError{
		Code:    ErrPermissionDenied,
		Message: fmt.Sprintf("user %d denied: %s", userID, reason),
		Details: map[string]any{"user_id": userID, "reason": reason},
	}
}

// NewMalformedToken creates an error for an action token that cannot be decoded.
func NewMalformedToken(token string, cause error) *RelayError {
	msg := fmt.Sprintf("malformed action token %q", token)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &RelayError{
		Code:    ErrMalformedToken,
		Message: msg,
		Details: map[string]any{"token": token},
		Cause:   cause,
	}
}

// NewTransient wraps a retryable transport failure.
func NewTransient(cause error) *RelayError {
	msg := "transport failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &RelayError{
		Code:    ErrTransportTransient,
		Message: msg,
		Cause:   cause,
	}
}

// NewRateLimited wraps a flood-control failure carrying the provider cooldown.
func NewRateLimited(after time.Duration, cause error) *RelayError {
	msg := fmt.Sprintf("rate limited, retry after %s", after)
	return &RelayError{
		Code:    ErrTransportTransient,
		Message: msg,
		Details: map[string]any{"retry_after": after},
		Cause:   cause,
	}
}

// NewTransportPermanent reports that every attempt failed.
func NewTransportPermanent(attempts int, cause error) *RelayError {
	msg := fmt.Sprintf("giving up after %d attempts", attempts)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &RelayError{
		Code:    ErrTransportPermanent,
		Message: msg,
		Details: map[string]any{"attempts": attempts},
		Cause:   cause,
	}
}

// NewEmptySubmission creates an error for a submission with no items.
func NewEmptySubmission() *RelayError {
	return &RelayError{
		Code:    ErrEmptySubmission,
		Message: "submission has no items",
	}
}

// NewInvalidRequest creates an error for invalid operator input.
func NewInvalidRequest(msg string) *RelayError {
	return &RelayError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewNotFound creates an error for a missing record.
func NewNotFound(identifier string) *RelayError {
	return &RelayError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConflict creates an error for a state conflict (e.g. an already decided submission).
func NewConflict(msg string) *RelayError {
	return &RelayError{
		Code:    ErrConflict,
		Message: msg,
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *RelayError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &RelayError{
		Code:    ErrInternal,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a RelayError with the given code.
func Is(err error, code ErrorCode) bool {
	var rErr *RelayError
	if stderrors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// RetryAfter returns the provider cooldown carried by a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rErr *RelayError
	if !stderrors.As(err, &rErr) || rErr.Details == nil {
		return 0, false
	}
	after, ok := rErr.Details["retry_after"].(time.Duration)
	return after, ok
}

// Reason returns the denial reason of a PermissionDenied error.
func Reason(err error) string {
	var rErr *RelayError
	if !stderrors.As(err, &rErr) || rErr.Code != ErrPermissionDenied {
		return ""
	}
	reason, _ := rErr.Details["reason"].(string)
	return reason
}
