// Package errors consolidates error definitions for the stash storage engine.
//
// It provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Mode-change reject reasons and the error-to-reason mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Registry errors
	ErrTooManyTypes      = errors.New("too many data types registered")
	ErrTypeExists        = errors.New("data type already registered")
	ErrTypeNotFound      = errors.New("data type not found")
	ErrRecordTooLarge    = errors.New("record size exceeds maximum")
	ErrInvalidDescriptor = errors.New("invalid data type descriptor")

	// Backend errors
	ErrNoData         = errors.New("no data available")
	ErrBufferTooSmall = errors.New("destination buffer too small")
	ErrSizeMismatch   = errors.New("record size mismatch")
	ErrVolumeTooSmall = errors.New("storage volume too small for configured capacity")
	ErrCorrupted      = errors.New("stored data corrupted")

	// Session/protocol errors
	ErrInvalidSession = errors.New("invalid session id")
	ErrSessionActive  = errors.New("batch session active")
	ErrSessionBusy    = errors.New("batch session busy")
	ErrNoSession      = errors.New("no batch session open")

	// Pipe errors
	ErrPipeFull   = errors.New("pipe full")
	ErrPipeClosed = errors.New("pipe closed")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrNotRunning   = errors.New("coordinator not running")
	ErrTimeout      = errors.New("timeout")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNoData returns true if err indicates an empty backend or a timed-out
// pipe read. Both are expected conditions, not failures.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}

// IsValidation returns true if err is a configuration or registry
// validation error. These are fatal at startup, never recoverable.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidDescriptor) ||
		errors.Is(err, ErrTooManyTypes) ||
		errors.Is(err, ErrRecordTooLarge) ||
		errors.Is(err, ErrVolumeTooSmall)
}

// IsProtocolError returns true if err is a batch protocol error handled
// locally by the coordinator and surfaced as a reply, never as a crash.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrSessionActive) ||
		errors.Is(err, ErrSessionBusy) ||
		errors.Is(err, ErrNoSession)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrPipeFull)
}

// ============================================================================
// Mode-change reject reasons
// ============================================================================

// RejectReason enumerates why a mode change or command was rejected.
// Callers branch on these, so they are a closed set rather than free text.
type RejectReason int32

const (
	RejectUnknown RejectReason = iota

	// RejectBatchActive: cannot change to passthrough mode or clear
	// storage while a batch session is active.
	RejectBatchActive

	// RejectInternalError: mode change failed due to an internal error.
	RejectInternalError

	// RejectInvalidRequest: the request is invalid or malformed.
	RejectInvalidRequest
)

// String returns a human-readable name for a reject reason.
func (r RejectReason) String() string {
	switch r {
	case RejectUnknown:
		return "Unknown"
	case RejectBatchActive:
		return "BatchActive"
	case RejectInternalError:
		return "InternalError"
	case RejectInvalidRequest:
		return "InvalidRequest"
	default:
		return fmt.Sprintf("Reason(%d)", int32(r))
	}
}

// ReasonForError maps a sentinel error to the reject reason reported to
// the consumer.
func ReasonForError(err error) RejectReason {
	switch {
	case err == nil:
		return RejectUnknown
	case Is(err, ErrSessionActive), Is(err, ErrSessionBusy):
		return RejectBatchActive
	case Is(err, ErrInvalidSession), IsValidation(err):
		return RejectInvalidRequest
	default:
		return RejectInternalError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
