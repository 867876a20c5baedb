package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixperk/flowkey/pkg/backoff"
	"github.com/pixperk/flowkey/pkg/metrics"
	"github.com/pixperk/flowkey/pkg/types"
)

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 30 * time.Second

// bounds the clean-up release issued when an acquire is abandoned mid-flight
const abandonReleaseTimeout = 5 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the TTL of every lock the manager acquires.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithBackoff sets the delay strategy between attempts on a held key.
func WithBackoff(s backoff.Strategy) Option {
	return func(m *Manager) { m.backoff = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager acquires and releases named, time-bounded exclusive locks on a
// Store. Locks for different keys are independent.
type Manager struct {
	store   Store
	ttl     time.Duration
	backoff backoff.Strategy
	logger  *slog.Logger
}

// NewManager creates a lock manager on top of store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		ttl:     DefaultTTL,
		backoff: backoff.DefaultStrategy(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns the TTL applied to acquired locks.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire blocks until key is claimed or timeout elapses, in which case it
// returns an error wrapping ErrLockTimeout. While the key is held elsewhere
// the caller sleeps until the store reports a release or the next backoff
// delay passes. A timeout <= 0 makes a single attempt.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	scope := metrics.Scope(key)
	holder := uuid.NewString()
	start := time.Now()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	notifier, _ := m.store.(Notifier)

	for attempt := 1; ; attempt++ {
		var released <-chan struct{}
		if notifier != nil {
			released = notifier.Watch(key)
		}

		claimed, err := m.store.TryAcquire(ctx, key, holder, m.ttl)
		if err == nil {
			metrics.LockAcquireDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
			metrics.LockAcquireTotal.WithLabelValues(scope, "success").Inc()
			m.logger.Debug("lock acquired",
				"key", key,
				"fencing_token", claimed.FencingToken,
				"attempts", attempt,
				"waited", time.Since(start),
			)
			return newLock(m, claimed), nil
		}

		if !errors.Is(err, types.ErrLockAlreadyHeld) {
			if ctx.Err() != nil {
				//the claim may have landed even though we never saw the reply
				m.abandon(key, holder)
				return nil, ctx.Err()
			}
			metrics.LockAcquireTotal.WithLabelValues(scope, "error").Inc()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}

		if deadline == nil {
			metrics.LockAcquireTotal.WithLabelValues(scope, "timeout").Inc()
			return nil, fmt.Errorf("%w: %s is held", ErrLockTimeout, key)
		}

		wait := time.NewTimer(m.backoff.Delay(attempt))
		select {
		case <-released:
		case <-wait.C:
		case <-deadline:
			wait.Stop()
			metrics.LockAcquireTotal.WithLabelValues(scope, "timeout").Inc()
			return nil, fmt.Errorf("%w: %s still held after %s", ErrLockTimeout, key, timeout)
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		}
		wait.Stop()
	}
}

// Release gives up l. Releasing a lock that already expired, or whose key was
// reclaimed by a new holder, is a no-op: the new holder keeps its lock.
// Release runs even if ctx is already cancelled.
func (m *Manager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	scope := metrics.Scope(l.key)

	err := m.store.Release(ctx, l.key, l.holder)
	switch {
	case err == nil:
		metrics.LockReleaseTotal.WithLabelValues(scope, "released").Inc()
		return nil
	case errors.Is(err, types.ErrLockNotFound), errors.Is(err, types.ErrNotLockOwner):
		metrics.LockReleaseTotal.WithLabelValues(scope, "stale").Inc()
		m.logger.Debug("release skipped, lock expired or reclaimed",
			"key", l.key,
			"fencing_token", l.Token(),
			"reason", err,
		)
		return nil
	default:
		metrics.LockReleaseTotal.WithLabelValues(scope, "error").Inc()
		return fmt.Errorf("release %s: %w", l.key, err)
	}
}

// Renew extends l by the manager's TTL if l is still the live holder.
func (m *Manager) Renew(ctx context.Context, l *Lock) error {
	renewed, err := m.store.Renew(ctx, l.key, l.holder, m.ttl)
	if err != nil {
		metrics.LockRenewTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("renew %s: %w", l.key, err)
	}
	metrics.LockRenewTotal.WithLabelValues("success").Inc()
	l.update(renewed)
	return nil
}

// WithLock runs fn while holding key and releases it on every exit path.
// A release failure is returned only if fn itself succeeded.
func (m *Manager) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	l, err := m.Acquire(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := m.Release(ctx, l); rerr != nil {
			if err == nil {
				err = rerr
				return
			}
			m.logger.Warn("release after failed critical section", "key", key, "error", rerr)
		}
	}()
	return fn(ctx)
}

func (m *Manager) abandon(key, holder string) {
	ctx, cancel := context.WithTimeout(context.Background(), abandonReleaseTimeout)
	defer cancel()
	if err := m.store.Release(ctx, key, holder); err != nil &&
		!errors.Is(err, types.ErrLockNotFound) && !errors.Is(err, types.ErrNotLockOwner) {
		m.logger.Warn("release of abandoned acquire failed", "key", key, "error", err)
	}
}

// Lock is a held claim returned by Manager.Acquire.
type Lock struct {
	manager *Manager
	key     string
	holder  string

	mu    sync.Mutex
	claim types.Lock
}

func newLock(m *Manager, claim types.Lock) *Lock {
	return &Lock{manager: m, key: claim.Key, holder: claim.Holder, claim: claim}
}

func (l *Lock) Key() string { return l.key }

func (l *Lock) Holder() string { return l.holder }

// Token returns the fencing token of this claim. Writers guarded by the lock
// can reject writes carrying a token lower than the last one they saw.
func (l *Lock) Token() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claim.FencingToken
}

// ExpiresAt returns the expiry as last reported by the store.
func (l *Lock) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claim.ExpiresAt
}

func (l *Lock) Release(ctx context.Context) error {
	return l.manager.Release(ctx, l)
}

func (l *Lock) Renew(ctx context.Context) error {
	return l.manager.Renew(ctx, l)
}

func (l *Lock) update(claim types.Lock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claim = claim
}
