package types

import "errors"

var (
	// Lock errors
	ErrLockNotFound    = errors.New("lock not found")
	ErrLockAlreadyHeld = errors.New("lock is already held by another holder")
	ErrNotLockOwner    = errors.New("caller is not the lock holder")
	ErrLockExpired     = errors.New("lock has expired")

	// Validation errors
	ErrInvalidTTL    = errors.New("invalid lock TTL")
	ErrInvalidKey    = errors.New("invalid lock key")
	ErrInvalidHolder = errors.New("invalid lock holder")

	// Codec errors
	ErrUnknownCommand = errors.New("unknown command type")
)
