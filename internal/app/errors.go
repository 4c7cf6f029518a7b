package app

import "errors"

// Sentinel kinds for engine errors. These allow errors.Is/As from callers.
var (
	// ErrValidation marks a malformed input metric. Out-of-range values
	// are rejected, never silently clamped, so upstream logging bugs
	// surface immediately.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition marks a state-machine transition attempted
	// from a terminal or mismatched state. Recoverable: the caller should
	// re-check the proposal status.
	ErrInvalidTransition = errors.New("invalid proposal transition")

	// ErrRollbackExpired marks a rollback attempted outside the window.
	// Surfaced to the user as "too late to undo, adjust manually".
	ErrRollbackExpired = errors.New("rollback window expired")
)
