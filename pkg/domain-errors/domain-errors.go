package domainerrors

import "errors"

// Code represents a domain error category independent of the host
// application. These codes describe what went wrong in security and
// compliance terms so callers can react without string matching.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeInvalidState Code = "invalid_state"
	CodeTimeout      Code = "timeout"

	// Key and storage lifecycle
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeCorruptedKey       Code = "corrupted_key"
	CodeKeyNotFound        Code = "key_not_found"

	// Cryptographic failures, never coerced to partial results
	CodeAuthenticationFailed Code = "authentication_failed"

	// User presence gate
	CodeBiometricFailed Code = "biometric_failed"

	// Compliance gating (GDPR-style)
	CodeMissingConsent     Code = "missing_consent"
	CodeInvalidConsent     Code = "invalid_consent"
	CodeDeletionInProgress Code = "deletion_in_progress"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
