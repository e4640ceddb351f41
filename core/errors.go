package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an operation is attempted before the
	// shared state store connection has been established. Callers must invoke
	// the backend's Connect method before first use.
	ErrNotInitialized = errors.New("state store not initialized")

	// ErrStoreUnavailable signals a transient connectivity or timeout failure
	// talking to the shared state store. It is retriable with backoff; note
	// that a timed-out mutator has an unknown outcome and should be
	// reconciled with a subsequent read rather than blindly retried.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrSessionNotFound is returned when an operation references a session
	// id with no corresponding live record (never created, deleted, or
	// expired via TTL).
	ErrSessionNotFound = errors.New("session not found")
)

// ValidationError reports malformed input such as an unknown message role or
// a missing identifier. It is raised synchronously and never coerced.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
