package settings

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a referenced setting or group key does
	// not exist.
	ErrNotFound = errors.New("setting not found")

	// ErrNotConfigurable is returned when a write targets a setting with
	// UserConfigurable false.
	ErrNotConfigurable = errors.New("setting is not user configurable")

	// ErrNotReady is returned on synchronous access before a group finished
	// its asynchronous initialization.
	ErrNotReady = errors.New("settings group not ready")

	// ErrInvalidKey is returned when a storage key has no group/setting
	// delimiter.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrDisposed is returned by any operation on a disposed group or manager.
	ErrDisposed = errors.New("disposed")

	// ErrLockTimeout is returned when the per-key lock could not be acquired
	// within the operation timeout.
	ErrLockTimeout = errors.New("timed out waiting for key lock")
)

// TypeMismatchError reports a typed accessor applied to a setting of a
// different declared type.
type TypeMismatchError struct {
	Want Type
	Got  Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: want %s, got %s", e.Want, e.Got)
}

// ValidationError reports a value rejected by a setting's validator.
type ValidationError struct {
	Key    string
	Value  Value
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("value %s failed validation for %q: %s", e.Value, e.Key, e.Reason)
}

// RecoveryError reports a recovery handler that itself failed: either it
// returned a value that also failed validation, or it panicked/errored.
type RecoveryError struct {
	Key       string
	Original  Value
	Reason    string // the validation failure that triggered recovery
	Secondary error  // what went wrong during recovery
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery failed for %q (original value %s, reason: %s): %v",
		e.Key, e.Original, e.Reason, e.Secondary)
}

func (e *RecoveryError) Unwrap() error { return e.Secondary }
