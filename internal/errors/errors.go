// Package errors defines the typed error taxonomy shared by the ledger
// approval service. Every failure that crosses a package boundary is an
// *Error carrying one of the codes below.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and transports.
type Code string

const (
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInvalidState      Code = "INVALID_STATE"
	ErrCodeValidation        Code = "VALIDATION_ERROR"
	ErrCodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is the concrete error type returned by repositories and services.
type Error struct {
	Code      Code
	Message   string
	Field     string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports that an entity of the given kind does not exist.
func NotFound(kind, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// Conflict reports a uniqueness or single-outstanding violation.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// ConflictOn reports a uniqueness violation on a specific field.
func ConflictOn(field, message string) *Error {
	return &Error{Code: ErrCodeConflict, Field: field, Message: message}
}

// InvalidState reports an operation attempted from the wrong state.
func InvalidState(message string) *Error {
	return &Error{Code: ErrCodeInvalidState, Message: message}
}

// InvalidInput reports a malformed request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeValidation, Field: field, Message: message}
}

// ResourceExhausted reports that a bounded search ran out of attempts.
func ResourceExhausted(message string) *Error {
	return &Error{Code: ErrCodeResourceExhausted, Message: message}
}

// Retryable marks err as safe to retry as a whole unit of work.
func Retryable(err *Error) *Error {
	err.Retryable = true
	return err
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Retryable
}

// FieldOf returns the offending field of a validation or conflict error, if any.
func FieldOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Field
	}
	return ""
}

// HTTPStatus maps a code to the HTTP status used by the REST handler.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
