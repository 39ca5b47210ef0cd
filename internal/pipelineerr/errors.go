// Package pipelineerr defines the domain-level error kinds of spec §7 —
// InputRejected, TransientExternal, PermanentExternal, IntegrityViolation and
// Fatal — distinct from transport-level errors (an HTTP 503 or a timeout is
// TransientExternal regardless of which component observed it).
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for the purposes of the propagation policy
// in spec §7: transient failures never unwind a cycle, permanent failures
// escalate, Fatal stops the engine.
type Kind string

const (
	KindInputRejected      Kind = "input_rejected"
	KindTransientExternal  Kind = "transient_external"
	KindPermanentExternal  Kind = "permanent_external"
	KindIntegrityViolation Kind = "integrity_violation"
	KindFatal              Kind = "fatal"
)

// Error wraps an underlying cause with a domain Kind.
type Error struct {
	Kind  Kind
	Op    string // component/operation that produced the error, e.g. "feed.enrich"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Error of the given kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether the first *Error in err's chain has the given Kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// InputRejected wraps a constraint violation that must never enter the pipeline.
func InputRejected(op string, cause error) *Error {
	return New(KindInputRejected, op, cause)
}

// TransientExternal wraps a recoverable-next-cycle external failure.
func TransientExternal(op string, cause error) *Error {
	return New(KindTransientExternal, op, cause)
}

// PermanentExternal wraps a terminal external failure (blocked recipient, etc).
func PermanentExternal(op string, cause error) *Error {
	return New(KindPermanentExternal, op, cause)
}

// Fatal wraps a loss of the persistent backend requiring operator intervention.
func Fatal(op string, cause error) *Error {
	return New(KindFatal, op, cause)
}
