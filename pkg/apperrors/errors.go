// Package apperrors defines the error taxonomy shared by the ingestion and
// query paths. Handlers translate kinds to HTTP status codes; everything else
// wraps causes with a kind and a caller-facing message.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind int

const (
	// KindUnknown is an unclassified internal error.
	KindUnknown Kind = iota
	// KindInvalidArgument means the request is malformed or missing fields.
	KindInvalidArgument
	// KindNotFound means the referenced tenant or video does not exist.
	KindNotFound
	// KindInvalidState means the operation needs data that does not exist
	// yet, e.g. a retention curve for a video with no known duration.
	KindInvalidState
	// KindUnavailable is a transient storage failure, safe to retry.
	KindUnavailable
	// KindResourceExhausted means a raw-event scan exceeded its row bound.
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindUnavailable:
		return "unavailable"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to a cause. A nil cause returns nil.
func Wrap(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
