// Package errkind defines the closed set of error kinds used across the sync
// core. Kinds drive retry decisions in the rate gate, propagation in syncers,
// and classification in the sync_errors table.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an error for retry and monitoring purposes.
type Kind string

const (
	// RateLimited means the upstream rejected the call due to throttling.
	RateLimited Kind = "rate_limited"
	// UpstreamUnavailable means the upstream could not be reached or returned a server error.
	UpstreamUnavailable Kind = "upstream_unavailable"
	// SchemaDrift means the upstream payload no longer matches the expected schema.
	SchemaDrift Kind = "schema_drift"
	// Empty means the upstream returned no data for a valid request.
	Empty Kind = "empty"
	// ValidationRejected means rows were dropped by cleaning rules.
	ValidationRejected Kind = "validation_rejected"
	// WriteConflict means the store rejected a write for schema or constraint reasons.
	WriteConflict Kind = "write_conflict"
	// Cancelled means the job was cancelled cooperatively.
	Cancelled Kind = "cancelled"
	// DeadlineExceeded means the per-call or per-job deadline expired.
	DeadlineExceeded Kind = "deadline_exceeded"
	// ConfigError means configuration was missing or malformed.
	ConfigError Kind = "config_error"
	// Unknown is everything else.
	Unknown Kind = "unknown"
)

// Error is a tagged error carrying a kind and an optional target code.
type Error struct {
	Kind    Kind
	Code    string // target symbol code, empty for global operations
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind. Returns nil when err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// WithCode returns a copy of the error annotated with a target code.
func (e *Error) WithCode(code string) *Error {
	clone := *e
	clone.Code = code
	return &clone
}

// KindOf classifies any error into a Kind. Tagged errors keep their kind;
// context and transport errors map to the matching kinds; anything else is
// Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return DeadlineExceeded
		}
		return UpstreamUnavailable
	}

	return Unknown
}

// Retryable reports whether the rate gate should retry an error of this kind.
// SchemaDrift, Empty and Unknown are never retried: retrying cannot fix them.
func Retryable(kind Kind) bool {
	switch kind {
	case RateLimited, UpstreamUnavailable, DeadlineExceeded:
		return true
	default:
		return false
	}
}

// CodeOf extracts the target code from a tagged error, if present.
func CodeOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Code
	}
	return ""
}
