package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies trace errors.
type ErrorCode string

// Error codes.
const (
	ErrCodeNone          ErrorCode = "none"
	ErrCodeInitFailed    ErrorCode = "init_failed"
	ErrCodeBadState      ErrorCode = "bad_state"
	ErrCodeBackendIO     ErrorCode = "backend_io"
	ErrCodeBadFrame      ErrorCode = "bad_frame"
	ErrCodeUnsupported   ErrorCode = "unsupported"
	ErrCodeInvariant     ErrorCode = "invariant"
	ErrCodeURI           ErrorCode = "uri"
	ErrCodeUnknownOption ErrorCode = "unknown_option"
)

// TraceError is the structured (code, message) error retrievable from a trace.
type TraceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewTraceError builds a TraceError.
func NewTraceError(code ErrorCode, message string, err error) *TraceError {
	return &TraceError{Code: code, Message: message, Err: err}
}

func (e *TraceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TraceError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error ends the trace.
// Per-packet errors (bad frames, unsupported conversions) are not fatal;
// invariant violations and failed initialisation are.
func (e *TraceError) IsFatal() bool {
	return e.Code == ErrCodeInvariant || e.Code == ErrCodeInitFailed
}

// ErrorCodeOf extracts the code of a TraceError in err's chain.
// Returns ErrCodeNone for nil and non-trace errors.
func ErrorCodeOf(err error) ErrorCode {
	var te *TraceError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeNone
}

// IsFatalError returns true if err wraps a fatal TraceError.
func IsFatalError(err error) bool {
	var te *TraceError
	if errors.As(err, &te) {
		return te.IsFatal()
	}
	return false
}
