// Package errors provides kinded errors for the swap engine and their
// RFC 7807 Problem Details rendering.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds raised by the engine.
const (
	KindInvalidRequest    = "InvalidRequest"
	KindCapacityExceeded  = "CapacityExceeded"
	KindNoAvailableWorker = "NoAvailableWorker"
	KindSlippageExceeded  = "SlippageExceeded"
	KindRollbackExhausted = "RollbackExhausted"
	KindInvalidTransition = "InvalidTransition"
	KindNotFound          = "NotFound"
	KindEngineStopped     = "EngineStopped"
	KindTransport         = "Transport"
	KindUnclassified      = "Unclassified"
	KindInvalidConfig     = "InvalidConfig"
	kindUnknown           = "Unknown"
)

var (
	ErrInvalidRequest    = NewWithKind(KindInvalidRequest).Explain("invalid swap request")
	ErrCapacityExceeded  = NewWithKind(KindCapacityExceeded).Explain("max concurrent swaps reached")
	ErrNoAvailableWorker = NewWithKind(KindNoAvailableWorker).Explain("no available worker")
	ErrSlippageExceeded  = NewWithKind(KindSlippageExceeded).Explain("slippage exceeded")
	ErrRollbackExhausted = NewWithKind(KindRollbackExhausted).Explain("rollback retries exhausted")
	ErrInvalidTransition = NewWithKind(KindInvalidTransition).Explain("invalid status transition")
	ErrNotFound          = NewWithKind(KindNotFound).Explain("swap not found")
	ErrEngineStopped     = NewWithKind(KindEngineStopped).Explain("engine stopped")
	ErrTransport         = NewWithKind(KindTransport).Explain("execution transport fault")
	ErrUnclassified      = NewWithKind(KindUnclassified).Explain("unclassified orchestration fault")
	ErrInvalidConfig     = NewWithKind(KindInvalidConfig).Explain("invalid configuration")
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: kindUnknown, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := e.Message
	if str == "" {
		str = e.Kind
	}
	if e.cause != nil {
		str += fmt.Sprintf(": %s", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Is matches on kind so that explained or wrapped copies of a sentinel
// still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return kindUnknown
}

// StatusCode maps an error kind onto an HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest, KindInvalidConfig:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCapacityExceeded:
		return http.StatusTooManyRequests
	case KindEngineStopped:
		return http.StatusServiceUnavailable
	case KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
