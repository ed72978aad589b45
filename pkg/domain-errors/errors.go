// Package domainerrors defines the coded error values exchanged between
// services, stores, and transport. Errors are structured values (code +
// message + optional cause) so callers can branch on the code without string
// matching, and the HTTP layer can translate them into status codes in one
// place.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeBadRequest marks missing or malformed caller input. These never
	// reach the oracle and never mutate a record.
	CodeBadRequest Code = "bad_request"

	// CodeInvalidInput marks a value that failed parsing at a trust boundary
	// (IDs, principals).
	CodeInvalidInput Code = "invalid_input"

	// CodeNotFound marks a record that does not exist.
	CodeNotFound Code = "not_found"

	// CodeConflict marks a second in-flight operation on the same record.
	CodeConflict Code = "conflict"

	// CodeInvalidTransition marks an operation attempted from an incompatible
	// lifecycle state.
	CodeInvalidTransition Code = "invalid_transition"

	// CodePreconditionFailed marks an operation whose domain precondition does
	// not hold (e.g. tokenizing an unverified property).
	CodePreconditionFailed Code = "precondition_failed"

	// CodeOracleUnavailable marks a retryable oracle transport or timeout
	// fault. The record stays in its pre-call state.
	CodeOracleUnavailable Code = "oracle_unavailable"

	// CodeOracleRejected marks a definitive negative verdict. Not retryable
	// without new documents.
	CodeOracleRejected Code = "oracle_rejected"

	// CodeStorage marks a persistence fault. Retryable; no partial transition
	// is persisted.
	CodeStorage Code = "storage_error"

	// CodeUnauthorized marks missing or invalid credentials.
	CodeUnauthorized Code = "unauthorized"

	// CodeForbidden marks an authenticated caller without the required role.
	CodeForbidden Code = "forbidden"

	// CodeInvariantViolation marks a broken model invariant detected during
	// construction or mutation.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "internal"
)

// Error is the structured error value used across the engine.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. Wrapping nil
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from an error, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may safely retry the same operation.
// Retryable errors guarantee the record was left in its pre-call state.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeOracleUnavailable, CodeStorage:
		return true
	}
	return false
}

// ToHTTPStatus maps a code to the HTTP status the transport layer returns.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeInvariantViolation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case CodeOracleUnavailable, CodeStorage:
		return http.StatusServiceUnavailable
	case CodeOracleRejected:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
