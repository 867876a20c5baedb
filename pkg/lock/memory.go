package lock

import (
	"context"
	"sync"
	"time"

	"github.com/pixperk/flowkey/pkg/fsm"
	ftime "github.com/pixperk/flowkey/pkg/time"
	"github.com/pixperk/flowkey/pkg/types"
)

var (
	_ Store    = (*MemoryStore)(nil)
	_ Notifier = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Store backed by the same state machine the
// replicated lock service runs. Waiters are woken through Watch on release
// and on lazily observed expiry.
type MemoryStore struct {
	fsm   *fsm.FSM
	clock ftime.Clock

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewMemoryStore creates an empty in-memory store. A nil clock uses the
// monotonic clock.
func NewMemoryStore(clock ftime.Clock) *MemoryStore {
	if clock == nil {
		clock = ftime.NewClock()
	}
	return &MemoryStore{
		fsm:     fsm.NewFSM(),
		clock:   clock,
		waiters: make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	if err := ctx.Err(); err != nil {
		return types.Lock{}, err
	}

	now := s.clock.Now()
	previous, existed := s.fsm.GetLock(key)

	result, err := s.fsm.Apply(types.AcquireLockCmd{Key: key, Holder: holder, TTL: ttl, Now: now})
	if err != nil {
		return types.Lock{}, err
	}
	lock := result.(fsm.AcquireLockResponse).Lock

	//took over an expired claim: anyone watching the old one should re-check
	if existed && previous.FencingToken != lock.FencingToken {
		s.notify(key)
	}
	return lock, nil
}

func (s *MemoryStore) Release(ctx context.Context, key, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.fsm.Apply(types.ReleaseLockCmd{Key: key, Holder: holder}); err != nil {
		return err
	}
	s.notify(key)
	return nil
}

func (s *MemoryStore) Renew(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	if err := ctx.Err(); err != nil {
		return types.Lock{}, err
	}

	result, err := s.fsm.Apply(types.RenewLockCmd{Key: key, Holder: holder, TTL: ttl, Now: s.clock.Now()})
	if err != nil {
		return types.Lock{}, err
	}
	return result.(fsm.RenewLockResponse).Lock, nil
}

// Watch returns a channel closed the next time key is released.
func (s *MemoryStore) Watch(key string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.waiters[key]
	if !ok {
		ch = make(chan struct{})
		s.waiters[key] = ch
	}
	return ch
}

// Sweep drops every expired lock and wakes its waiters. Returns the number
// of locks removed.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()
	removed := 0
	for _, exp := range s.fsm.GetExpiredLocks(now) {
		result, err := s.fsm.Apply(types.ExpireLockCmd{Key: exp.Key, FencingToken: exp.FencingToken, Now: now})
		if err != nil {
			//released between the scan and the sweep
			continue
		}
		if result.(fsm.ExpireLockResponse).Expired {
			removed++
			s.notify(exp.Key)
		}
	}
	return removed
}

// Get returns the current claim on key, if any and not expired.
func (s *MemoryStore) Get(key string) (types.Lock, bool) {
	lock, ok := s.fsm.GetLock(key)
	if !ok || lock.IsExpired(s.clock.Now()) {
		return types.Lock{}, false
	}
	return lock, true
}

func (s *MemoryStore) notify(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.waiters[key]; ok {
		close(ch)
		delete(s.waiters, key)
	}
}
