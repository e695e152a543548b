package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrKeyUnavailable indicates the public key is published but the private
	// half is missing from local secure storage. Recoverable after the user
	// reauthorizes this device.
	ErrKeyUnavailable = errors.New("private key unavailable on this device")

	// ErrInvalidContent indicates message content failed validation. Raised
	// before any encryption or I/O.
	ErrInvalidContent = errors.New("invalid message content")

	// ErrRateLimited indicates the sender exhausted its per-minute budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrDecryptionFailed indicates authentication-checked decryption failed.
	// Isolated per message; never fatal to a page load.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a unique-constraint collision, e.g. two sessions
	// creating the same thread concurrently.
	ErrConflict = errors.New("constraint conflict")

	// ErrUnavailable indicates the backing store or directory could not be
	// reached. Read paths may degrade to stale cache data.
	ErrUnavailable = errors.New("backing service unavailable")
)

// RateLimitError wraps ErrRateLimited and carries the instant the current
// window resets so callers can present a wait time.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
