// Package errdefs defines the error kinds surfaced by the protein runner.
// Every failure returned by a core operation carries exactly one Kind so
// that a transport boundary can map it to a status code without inspecting
// messages.
package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a coarse-grained error classification.
type Kind string

const (
	KindInvalidSequence      Kind = "invalid_sequence"
	KindInvalidParameters    Kind = "invalid_parameters"
	KindUnknownModel         Kind = "unknown_model"
	KindModelUnavailable     Kind = "model_unavailable"
	KindMemoryBudgetExceeded Kind = "memory_budget_exceeded"
	KindTimeout              Kind = "timeout"
	KindInternal             Kind = "internal_error"
)

// Sentinels usable with errors.Is. Matching is by kind only.
var (
	ErrInvalidSequence      = &Error{Kind: KindInvalidSequence}
	ErrInvalidParameters    = &Error{Kind: KindInvalidParameters}
	ErrUnknownModel         = &Error{Kind: KindUnknownModel}
	ErrModelUnavailable     = &Error{Kind: KindModelUnavailable}
	ErrMemoryBudgetExceeded = &Error{Kind: KindMemoryBudgetExceeded}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrInternal             = &Error{Kind: KindInternal}
)

// Error wraps an underlying error with an operation name and a kind.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op names the operation that failed, e.g. "analyze" or "load".
	Op string
	// Message is a human readable description.
	Message string
	// Err is the optional underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidSequence is shorthand for New(KindInvalidSequence, ...).
func InvalidSequence(op, format string, args ...any) *Error {
	return New(KindInvalidSequence, op, format, args...)
}

// InvalidParameters is shorthand for New(KindInvalidParameters, ...).
func InvalidParameters(op, format string, args ...any) *Error {
	return New(KindInvalidParameters, op, format, args...)
}

// KindOf classifies an arbitrary error. Context deadline and cancellation
// errors are reported as timeouts and anything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Payload is the transport-neutral {kind, message} representation.
type Payload struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToPayload converts err into its boundary representation.
func ToPayload(err error) Payload {
	return Payload{Kind: KindOf(err), Message: err.Error()}
}
