package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pixperk/flowkey/pkg/types"
)

// KeepAlive renews l every TTL/3 until stop is called, ctx ends, or the lock
// is lost. Lost is closed once the store reports the claim gone (expired,
// reclaimed, or released); transient renew failures are retried on the next
// tick.
func (m *Manager) KeepAlive(ctx context.Context, l *Lock) (stop func(), lost <-chan struct{}) {
	interval := m.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	stopCh := make(chan struct{})
	lostCh := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var failureCount int

		for {
			select {
			case <-ticker.C:
				err := m.Renew(ctx, l)
				if err == nil {
					if failureCount > 0 {
						m.logger.Info("lock renewal recovered", "key", l.key, "failures", failureCount)
						failureCount = 0
					}
					continue
				}

				if errors.Is(err, types.ErrLockNotFound) ||
					errors.Is(err, types.ErrNotLockOwner) ||
					errors.Is(err, types.ErrLockExpired) {
					m.logger.Error("lock lost", "key", l.key, "fencing_token", l.Token(), "error", err)
					close(lostCh)
					return
				}

				failureCount++
				m.logger.Warn("lock renewal failed", "key", l.key, "attempt", failureCount, "error", err)
				if failureCount >= 2 {
					m.logger.Error("lock may expire soon, renewal failing",
						"key", l.key,
						"expires_at", l.ExpiresAt(),
					)
				}

			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() { close(stopCh) })
		<-done
	}
	return stop, lostCh
}
