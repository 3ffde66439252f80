// Package engine provides the reconciliation core: change-set computation,
// dependency ordering, and plan execution against a record store.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry,
	// such as a remote timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error such as an invalid
	// template or a rejected record operation.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes used across the template pipeline.
const (
	ErrCodeParse              = "PARSE_ERROR"
	ErrCodeSchema             = "SCHEMA_ERROR"
	ErrCodeUndefinedVariable  = "UNDEFINED_VARIABLE"
	ErrCodeCircularReference  = "CIRCULAR_REFERENCE"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDependencyRef      = "DEPENDENCY_REFERENCE"
	ErrCodeDependencyCycle    = "DEPENDENCY_CYCLE"
	ErrCodeApply              = "APPLY_ERROR"
	ErrCodeRollback           = "ROLLBACK_ERROR"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Error is a classified error with the record or variable path that caused it.
// Every failure surfaced to a caller carries a code and a path, never a bare
// wrapped error chain.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code identifies the failure for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Path is the record or variable path implicated, if applicable
	// (e.g. "records.A[0].value" or "variables.ttl").
	Path string `json:"path,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a permanent classified error.
func NewError(code, message string) *Error {
	return &Error{
		Class:   ErrorClassPermanent,
		Code:    code,
		Message: message,
	}
}

// NewTransientError creates a transient classified error.
func NewTransientError(code, message string, err error) *Error {
	return &Error{
		Class:   ErrorClassTransient,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithPath adds the record or variable path to an error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// HasCode returns true if the error chain contains a classified error with
// the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
