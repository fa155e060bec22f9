// Package errors defines the structured error type shared by the
// inkwell viewer components. Every error carries a Kind that maps onto
// the failure categories the server cares about when deciding whether
// to drop a connection, substitute an error page, or give up entirely.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error.
type Kind string

const (
	KindIO         Kind = "io"         // bind/accept/read/write failures
	KindProtocol   Kind = "protocol"   // incomplete or malformed HTTP request
	KindSandbox    Kind = "sandbox"    // a link destination would escape the root
	KindExhausted  Kind = "exhausted"  // connection or document limits reached
	KindSubscriber Kind = "subscriber" // send to a disconnected event channel
	KindRender     Kind = "render"     // the markup renderer failed
	KindWatch      Kind = "watch"      // the filesystem watch could not be (re)armed
	KindConfig     Kind = "config"     // invalid configuration value
)

// Error is a structured error with a kind, a short machine-readable
// code, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// New creates an error with the given kind and code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error with the given kind and code wrapping a cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// Sentinels for conditions callers branch on.
var (
	// ErrNoFreeFilename is returned when every copy counter in the
	// probe range is already taken.
	ErrNoFreeFilename = New(KindExhausted, "no_free_filename", "no free filename found")

	// ErrSandboxViolation is returned when a rewritten link would
	// resolve outside the sandbox root.
	ErrSandboxViolation = New(KindSandbox, "sandbox_violation", "link destination escapes the sandbox root")

	// ErrNotLocal marks a destination that is not a local path and is
	// passed through untouched.
	ErrNotLocal = New(KindSandbox, "not_local", "destination is not a local path")

	// ErrTooManyDocs is returned once the distinct-documents limit is
	// exceeded within one server run.
	ErrTooManyDocs = New(KindExhausted, "too_many_docs", "too many note documents served")

	// ErrSubscriberGone marks a send to a disconnected event stream
	// subscriber.
	ErrSubscriberGone = New(KindSubscriber, "subscriber_gone", "event stream subscriber disconnected")
)
