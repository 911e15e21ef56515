// Package apperror defines the closed set of error kinds that cross service
// boundaries, and the structured error value that carries them.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindCircuitOpen
	KindStorageTimeout
	KindStorageUnavailable
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindCircuitOpen:
		return "circuit_open"
	case KindStorageTimeout:
		return "storage_timeout"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Wire codes. These appear in response envelopes and drive the HTTP status table.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeMissingMasterKey   = "MISSING_MASTER_KEY"
	CodeInvalidMasterKey   = "INVALID_MASTER_KEY"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeTokenError         = "OAUTH2_TOKEN_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeCircuitOpen        = "CIRCUIT_BREAKER_OPEN"
	CodeStorageTimeout     = "STORAGE_TIMEOUT"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeStorageError       = "STORAGE_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is the structured error value returned by services and clients.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	TraceID   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the retry default for its kind.
func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: defaultRetryable(kind),
	}
}

// Wrap is New with an underlying cause.
func Wrap(err error, kind Kind, code, message string) *Error {
	e := New(kind, code, message)
	e.Err = err
	return e
}

// WithTrace sets the trace id if none is present and returns e.
func (e *Error) WithTrace(traceID string) *Error {
	if e.TraceID == "" {
		e.TraceID = traceID
	}
	return e
}

// From extracts an *Error from err. Errors that are not *Error become
// INTERNAL_ERROR values wrapping err.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, KindInternal, CodeInternal, "internal error")
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// KindForCode maps a downstream wire code back to a kind.
func KindForCode(code string) Kind {
	switch code {
	case CodeValidation, CodeMissingMasterKey, CodePayloadTooLarge:
		return KindValidation
	case CodeInvalidMasterKey, CodeUnauthorized, CodeTokenError:
		return KindAuth
	case CodeNotFound:
		return KindNotFound
	case CodeCircuitOpen:
		return KindCircuitOpen
	case CodeStorageTimeout:
		return KindStorageTimeout
	case CodeStorageUnavailable:
		return KindStorageUnavailable
	case CodeInternal:
		return KindInternal
	default:
		return KindStorage
	}
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindCircuitOpen, KindStorageTimeout, KindStorageUnavailable:
		return true
	default:
		return false
	}
}

// Validation is shorthand for a VALIDATION_ERROR.
func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

// NotFound is shorthand for a NOT_FOUND error.
func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, message)
}

// Internal wraps an unexpected failure.
func Internal(err error, message string) *Error {
	return Wrap(err, KindInternal, CodeInternal, message)
}
