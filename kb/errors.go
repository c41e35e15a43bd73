package kb

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can tell safely degraded
// outcomes apart from conditions that should alert operators.
type ErrorKind int

const (
	// KindInput covers unsupported formats, missing metadata, and empty
	// extraction. Reported synchronously, never retried.
	KindInput ErrorKind = iota + 1

	// KindCapability covers failed or timed-out embedding, chat, and vector
	// store calls.
	KindCapability

	// KindIndexState covers missing indexes and filters the store cannot
	// evaluate. Retrieval treats these as "no matches".
	KindIndexState
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindCapability:
		return "capability"
	case KindIndexState:
		return "index_state"
	default:
		return "unknown"
	}
}

// Error is the typed error crossing the knowledge base module boundary.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InputErrorf builds a KindInput error from a format string.
func InputErrorf(op, format string, args ...any) *Error {
	return &Error{Kind: KindInput, Op: op, Err: fmt.Errorf(format, args...)}
}

// CapabilityError wraps a failed external capability call.
func CapabilityError(op string, err error) *Error {
	return &Error{Kind: KindCapability, Op: op, Err: err}
}

// IndexStateError wraps an index or filter problem.
func IndexStateError(op string, err error) *Error {
	return &Error{Kind: KindIndexState, Op: op, Err: err}
}

// KindOf returns the kind of err, or 0 when err carries no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsInput reports whether err is a KindInput error.
func IsInput(err error) bool { return KindOf(err) == KindInput }

// IsCapability reports whether err is a KindCapability error.
func IsCapability(err error) bool { return KindOf(err) == KindCapability }

// IsIndexState reports whether err is a KindIndexState error.
func IsIndexState(err error) bool { return KindOf(err) == KindIndexState }
