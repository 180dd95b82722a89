// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracerr defines the four error kinds surfaced by the trace
// storage subsystem: IoError, CorruptTrace, UnsupportedVersion, and
// InvalidState. There is no subclassing — every failure the subsystem
// raises is one of these four, wrapped with enough context (a record
// kind, a field name, the underlying cause) to diagnose it.
package tracerr

import (
	"errors"
	"fmt"
)

// Kind classifies a trace storage failure.
type Kind int

const (
	// IoError wraps any underlying filesystem failure.
	IoError Kind = iota
	// CorruptTrace reports a structural violation of the on-disk
	// contract: a bad length, an out-of-order global time, a
	// mismatched header, a truncated block.
	CorruptTrace
	// UnsupportedVersion reports a missing or unrecognized version file.
	UnsupportedVersion
	// InvalidState reports misuse of the writer/reader state machine.
	InvalidState
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "io_error"
	case CorruptTrace:
		return "corrupt_trace"
	case UnsupportedVersion:
		return "unsupported_version"
	case InvalidState:
		return "invalid_state"
	default:
		return fmt.Sprintf("unknown_kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every operation in the
// trace storage subsystem. Field identifies which record field or
// stream the failure concerns, when applicable; it may be empty.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var where string
	if e.Field != "" {
		where = ": " + e.Field
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%s: %s: %v", e.Kind, where, e.Message, e.Err)
	}
	return fmt.Sprintf("%s%s: %s", e.Kind, where, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error that carries an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithField attaches a field or stream name to an *Error, returning
// itself for chaining. Only meaningful on values constructed by this
// package.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Is reports whether err is a trace storage error of the given kind.
func Is(err error, kind Kind) bool {
	var traceErr *Error
	if !errors.As(err, &traceErr) {
		return false
	}
	return traceErr.Kind == kind
}

// IsIoError reports whether err is an IoError.
func IsIoError(err error) bool { return Is(err, IoError) }

// IsCorrupt reports whether err is a CorruptTrace error.
func IsCorrupt(err error) bool { return Is(err, CorruptTrace) }

// IsUnsupportedVersion reports whether err is an UnsupportedVersion error.
func IsUnsupportedVersion(err error) bool { return Is(err, UnsupportedVersion) }

// IsInvalidState reports whether err is an InvalidState error.
func IsInvalidState(err error) bool { return Is(err, InvalidState) }

// IoErrorf wraps an underlying I/O failure in one call.
func IoErrorf(err error, format string, args ...any) *Error {
	return Wrap(IoError, fmt.Sprintf(format, args...), err)
}

// Corruptf reports a structural violation with a formatted message.
func Corruptf(field, format string, args ...any) *Error {
	return New(CorruptTrace, fmt.Sprintf(format, args...)).WithField(field)
}
