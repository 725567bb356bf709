// Package apperr defines the error taxonomy returned by the workflow engine.
//
// Every failure the engine reports to a caller is an *Error carrying one of the
// Code values below. Lower-level failures (storage, network) are wrapped with
// CodeInternal so callers never see driver detail.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies the error category.
type Code string

const (
	// CodeNotFound means the entity is absent or belongs to another organization.
	CodeNotFound Code = "NOT_FOUND"

	// CodeValidation means the request was malformed.
	CodeValidation Code = "VALIDATION"

	// CodeInvalidTransition means a status change is not allowed by the state machine.
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// CodeConflict means a structural change is blocked by existing dependents.
	CodeConflict Code = "CONFLICT"

	// CodeInternal is any unexpected failure.
	CodeInternal Code = "INTERNAL"
)

// Error is the error type returned across the service boundary.
type Error struct {
	Code    Code
	Message string

	// Details holds field-level context (field name, current/requested status).
	Details map[string]string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound reports that entity id does not exist for the caller.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", entity, id),
		Details: map[string]string{"entity": entity, "id": id},
	}
}

// Validation reports a malformed input field.
func Validation(field, message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: fmt.Sprintf("%s: %s", field, message),
		Details: map[string]string{field: message},
	}
}

// InvalidTransition reports a status change rejected by a state machine.
func InvalidTransition(entity, from, to string) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		Details: map[string]string{"entity": entity, "current": from, "requested": to},
	}
}

// Conflict reports a change blocked by existing dependents.
func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

// Wrap turns an unexpected error into CodeInternal. Errors that already
// carry a code are returned unchanged.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Code: CodeInternal, Message: message, cause: err}
}

// CodeOf returns the code of err, or CodeInternal when err is not an *Error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return err != nil && CodeOf(err) == CodeNotFound }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return err != nil && CodeOf(err) == CodeValidation }

// IsInvalidTransition reports whether err is a state machine violation.
func IsInvalidTransition(err error) bool {
	return err != nil && CodeOf(err) == CodeInvalidTransition
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return err != nil && CodeOf(err) == CodeConflict }
