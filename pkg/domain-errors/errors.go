// Package domainerrors provides coded errors for domain and service layers.
//
// Stores return sentinel errors (pkg/platform/sentinel); services wrap or
// translate them into coded errors here. Transport layers map codes onto
// HTTP statuses and user-facing envelopes without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are stable API: transport mapping,
// metrics labels, and operator alerting key off them.
type Code string

const (
	// CodeValidation marks malformed or missing caller input. No side
	// effects have been performed when this is returned.
	CodeValidation Code = "validation"

	// CodeInvalidInput marks input that parsed but violates a domain rule.
	CodeInvalidInput Code = "invalid_input"

	CodeNotFound        Code = "not_found"
	CodeExpired         Code = "expired"
	CodeAlreadyUsed     Code = "already_used"
	CodeMaxAttempts     Code = "max_attempts_exceeded"
	CodeTooManyRequests Code = "too_many_requests"

	// CodeSequenceUnavailable means the sequence allocator exhausted its
	// conflict retries. Callers must not fabricate an identifier.
	CodeSequenceUnavailable Code = "sequence_unavailable"

	// CodeProviderError marks a failed identity-provider call. Never
	// retried automatically within the same request.
	CodeProviderError Code = "provider_error"

	// CodeCorruption marks an invariant breach between paired records,
	// e.g. a valid challenge whose pending registration has vanished.
	CodeCorruption Code = "corruption"

	CodeConflict Code = "conflict"
	CodeInternal Code = "internal"
)

// Error carries a code, a user-safe message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	// RetryAfterSeconds is set on rate-limit errors so transports can emit
	// Retry-After headers and user-facing wait guidance.
	RetryAfterSeconds int
	cause             error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRetryAfter creates a rate-limit error carrying the remaining wait.
func NewRetryAfter(code Code, message string, waitSeconds int) *Error {
	return &Error{Code: code, Message: message, RetryAfterSeconds: waitSeconds}
}

// RetryAfter extracts the wait seconds from err, or 0 when none is carried.
func RetryAfter(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfterSeconds
	}
	return 0
}

// Wrap annotates err with a code and message. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is delegates to errors.Is so call sites can keep a single import.
func Is(err, target error) bool { return errors.Is(err, target) }
