package types

import (
	"errors"
	"fmt"
)

// Common error codes
const (
	ErrConfig             = "CONFIG_ERROR"
	ErrUnsupportedNetwork = "UNSUPPORTED_NETWORK"
	ErrAdapterUnavailable = "ADAPTER_UNAVAILABLE"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrIntentNotFound     = "INTENT_NOT_FOUND"
	ErrIntentExpired      = "INTENT_EXPIRED"
	ErrReferenceCollision = "REFERENCE_COLLISION"
	ErrTxAlreadyMatched   = "TX_ALREADY_MATCHED"
)

// Error is the typed error used across the engine. Code identifies the error
// class for callers that branch on it; Err carries the underlying cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError reports a fatal configuration problem. These surface at
// startup or adapter construction, never per-sweep.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Code: ErrConfig, Message: fmt.Sprintf(format, args...)}
}

// NewAdapterUnavailable wraps a transient endpoint failure after the fallback
// attempt. It is retried on the next sweep cycle and never aborts a sweep.
func NewAdapterUnavailable(network Network, cause error) *Error {
	return &Error{
		Code:    ErrAdapterUnavailable,
		Message: fmt.Sprintf("%s endpoints unreachable", network),
		Err:     cause,
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
