package lock

import "errors"

// ErrLockTimeout is returned by Acquire when the key stayed held by another
// holder for longer than the caller was willing to wait. Retryable.
var ErrLockTimeout = errors.New("timed out waiting for lock")
