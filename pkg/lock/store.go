package lock

import (
	"context"
	"time"

	"github.com/pixperk/flowkey/pkg/types"
)

// Store is the lock backing store: an atomic claim-if-absent keyed by string,
// with TTL expiry and holder-checked release.
//
// TryAcquire never blocks on contention; it returns types.ErrLockAlreadyHeld
// when another holder has a live claim. Release and Renew return
// types.ErrLockNotFound or types.ErrNotLockOwner when the claim is gone or
// belongs to someone else.
type Store interface {
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error)
	Release(ctx context.Context, key, holder string) error
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error)
}

// Notifier is implemented by stores that can wake waiters when a key frees up.
// The returned channel is closed on the next release or expiry of key.
type Notifier interface {
	Watch(key string) <-chan struct{}
}
