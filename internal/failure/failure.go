// Package failure defines the error taxonomy shared by the generation
// pipeline. Every error that crosses a component boundary (provider calls,
// validation, storage, scheduling) is either a *Error carrying a Kind or a
// plain error that classifies as Permanent.
//
// Checking errors:
//
//	if failure.Retryable(err) { ... }
//	if failure.KindOf(err) == failure.Storage { ... }
//
//	var fe *failure.Error
//	if errors.As(err, &fe) && fe.RetryAfter > 0 { ... }
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure.
type Kind int

const (
	// Unknown is the zero value; KindOf never returns it for a non-nil error.
	Unknown Kind = iota
	// Transient failures may succeed when retried (timeouts, 5xx, dropped connections).
	Transient
	// Permanent failures will not succeed on retry (bad credentials, malformed request).
	Permanent
	// RateLimited means the provider asked us to slow down. Retried like Transient.
	RateLimited
	// Validation means the provider answered but the content was rejected.
	Validation
	// MissingVariable means a prompt referenced a variable that is not bound.
	MissingVariable
	// Storage means the version store could not persist or read a version.
	Storage
	// BlockedByDependency marks documents that can never run because an
	// upstream document failed.
	BlockedByDependency
	// Cancelled means the run was cancelled by the user.
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:             "unknown",
	Transient:           "transient",
	Permanent:           "permanent",
	RateLimited:         "rate_limited",
	Validation:          "validation",
	MissingVariable:     "missing_variable",
	Storage:             "storage",
	BlockedByDependency: "blocked_by_dependency",
	Cancelled:           "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText lets a Kind appear as its name in JSON checkpoints.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown failure kind %q", string(b))
}

// Error is a classified failure. Document is set when the failure belongs to
// a single document.
type Error struct {
	Kind       Kind
	Document   string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Document != "" {
		return fmt.Sprintf("%s: %s", e.Document, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: Storage})
// works without comparing the wrapped error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Document == "" && t.Kind == e.Kind
}

// New wraps err with a kind. A nil err yields nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// ForDocument returns a copy of err tagged with the document id. Errors that
// are not classified become Permanent.
func ForDocument(doc string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		cp.Document = doc
		return &cp
	}
	return &Error{Kind: Permanent, Document: doc, Err: err}
}

func Transientf(format string, args ...any) error {
	return &Error{Kind: Transient, Err: fmt.Errorf(format, args...)}
}

func Permanentf(format string, args ...any) error {
	return &Error{Kind: Permanent, Err: fmt.Errorf(format, args...)}
}

func Storagef(format string, args ...any) error {
	return &Error{Kind: Storage, Err: fmt.Errorf(format, args...)}
}

// RateLimitedf builds a RateLimited error. retryAfter is the provider's hint
// and may be zero.
func RateLimitedf(retryAfter time.Duration, format string, args ...any) error {
	return &Error{Kind: RateLimited, Err: fmt.Errorf(format, args...), RetryAfter: retryAfter}
}

// KindOf classifies err. Context cancellation maps to Cancelled and a
// deadline to Transient; anything else unclassified is Permanent.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	}
	return Permanent
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, RateLimited, Validation:
		return true
	}
	return false
}

// RetryAfter returns the provider's retry hint, or zero.
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
