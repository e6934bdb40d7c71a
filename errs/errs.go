package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and rendering decisions.
type Kind int

const (
	// Validation marks bad input shape or a caller bug. Never retried.
	Validation Kind = iota
	// Conflict marks a state conflict (already locked, key mismatch,
	// invalid proposal state). The caller must re-read state before retrying.
	Conflict
	// External marks a failure from the ledger or another collaborator.
	External
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// Error is a coded, classified error carrying enough context to render a
// specific user-facing message (ids, computed balances, underlying cause).
type Error struct {
	Kind   Kind
	Code   string
	Msg    string
	Detail map[string]interface{}
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// With attaches a detail field and returns the error for chaining.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]interface{})
	}
	e.Detail[key] = value
	return e
}

// Validationf builds a Validation error.
func Validationf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: Validation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error.
func Conflictf(code, format string, args ...interface{}) *Error {
	return &Error{Kind: Conflict, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Externalf builds an External error wrapping cause.
func Externalf(code string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: External, Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of err if it is (or wraps) an *Error, else "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// AsError returns the underlying *Error, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Well-known error codes shared across components.
const (
	CodeAlreadyLocked = "already_locked"
	CodeKeyMismatch   = "key_mismatch"
	CodeInvalidState  = "invalid_state"
	CodeNotFound      = "not_found"
	CodeNoSigner      = "no_signer"
	CodeLedger        = "ledger_error"
	CodeUnbalanced    = "unbalanced_trade"
)
