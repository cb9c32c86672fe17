// Package miraerr defines the tagged error taxonomy shared by every memory
// core component. Errors are propagated by kind, not by concrete type, so
// callers can make recovery decisions (retry, surface, escalate) without
// importing the producing package.
package miraerr

import (
	"errors"
	"fmt"
)

// Kind tags an error with its handling policy.
type Kind string

const (
	// Validation is bad input: missing field, impossible value. Surfaced
	// immediately; never retried.
	Validation Kind = "validation"
	// NotFound is a missing entity. Surfaced; may be expected by the caller.
	NotFound Kind = "not_found"
	// Conflict is an idempotency or unique-constraint violation. Retried
	// once after a re-read.
	Conflict Kind = "conflict"
	// ProviderUnavailable covers 5xx and network failures. Bounded
	// exponential backoff applies.
	ProviderUnavailable Kind = "provider_unavailable"
	// QuotaExceeded is a 429 or a budget gate rejection. Surfaced with
	// guidance; not retried until quota refills.
	QuotaExceeded Kind = "quota_exceeded"
	// Timeout is a deadline exceeded. The caller decides whether to retry.
	Timeout Kind = "timeout"
	// Corruption marks a violated invariant (I-4 primarily). The
	// reconciler is queued; the triggering request fails.
	Corruption Kind = "corruption"
	// Fatal is unrecoverable: dimension mismatch, missing required
	// configuration. Aborts the process on startup, 5xx at runtime.
	Fatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it, following the teacher's wrap-with-%w convention.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error for op/kind, wrapping err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Fatal for untagged
// errors so unexpected failures never silently retry forever.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Fatal
}

// Recoverable reports whether the kind is ever worth retrying.
func Recoverable(kind Kind) bool {
	switch kind {
	case ProviderUnavailable, Timeout, Conflict:
		return true
	default:
		return false
	}
}
