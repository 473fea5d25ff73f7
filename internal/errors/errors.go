// Package errors provides standardized domain errors that express business intent
// rather than infrastructure details. These errors should be used by use cases
// and mapped to appropriate HTTP status codes by handlers.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors that can be used across all domain modules.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request lacks valid authentication credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Synchronization errors used by the sender agent, transport negotiator and
// ingestion service. The distinction between transport and rejection matters:
// transport errors keep an outbox record pending for retry, rejections are
// terminal and must never be retried.
var (
	// ErrTransport indicates the batch never reached the server
	// (connect refused, timeout, broken pipe). Retried with backoff.
	ErrTransport = errors.New("transport failure")

	// ErrRejected indicates the server received and refused a record.
	// Terminal: the record is acknowledged as rejected and never resent.
	ErrRejected = errors.New("record rejected")

	// ErrStorage indicates the server could not durably persist a record.
	// No acknowledgment is produced; the sender retries later.
	ErrStorage = errors.New("storage failure")

	// ErrDuplicate indicates a message_id that is already committed.
	// Treated as success: the record is re-acknowledged as accepted.
	ErrDuplicate = errors.New("duplicate message")
)

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}
