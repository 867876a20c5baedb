package fsm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pixperk/flowkey/pkg/types"
)

// manages core lock state
// critical :
// - at most one live lock per key
// - fencing tokens must be strictly monotonic
// - release and renew must match the holder token, a stale holder never touches a newer claim
// - decisions use the Now carried by the command, never a local clock
type FSM struct {
	mu sync.RWMutex

	locks map[string]*types.Lock // key -> Lock

	fencingCounter uint64 // global fencing token counter (monotonic)
}

func NewFSM() *FSM {
	return &FSM{
		locks:          make(map[string]*types.Lock),
		fencingCounter: 0,
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.AcquireLockCmd:
		return f.applyAcquireLock(c)
	case types.RenewLockCmd:
		return f.applyRenewLock(c)
	case types.ReleaseLockCmd:
		return f.applyReleaseLock(c)
	case types.ExpireLockCmd:
		return f.applyExpireLock(c)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownCommand, cmd)
	}
}

// returned when a lock is acquired
type AcquireLockResponse struct {
	Lock types.Lock
}

func (f *FSM) applyAcquireLock(cmd types.AcquireLockCmd) (any, error) {
	if err := validate(cmd.Key, cmd.Holder); err != nil {
		return nil, err
	}
	if cmd.TTL <= 0 {
		return nil, types.ErrInvalidTTL
	}

	if existing, held := f.locks[cmd.Key]; held && !existing.IsExpired(cmd.Now) {
		//if held by same holder, allow re-acquisition (idempotent)
		if existing.Holder == cmd.Holder {
			return AcquireLockResponse{Lock: *existing}, nil
		}
		//held by a different holder, cannot acquire
		return nil, types.ErrLockAlreadyHeld
	}

	//absent or expired: claim it
	f.fencingCounter++

	lock := &types.Lock{
		Key:          cmd.Key,
		Holder:       cmd.Holder,
		FencingToken: f.fencingCounter,
		AcquiredAt:   cmd.Now,
		TTL:          cmd.TTL,
		ExpiresAt:    cmd.Now.Add(cmd.TTL),
	}

	f.locks[cmd.Key] = lock

	return AcquireLockResponse{Lock: *lock}, nil
}

// returned when a lock is renewed
type RenewLockResponse struct {
	Lock types.Lock
}

func (f *FSM) applyRenewLock(cmd types.RenewLockCmd) (any, error) {
	if cmd.TTL <= 0 {
		return nil, types.ErrInvalidTTL
	}

	lock, held := f.locks[cmd.Key]
	if !held {
		return nil, types.ErrLockNotFound
	}
	if lock.Holder != cmd.Holder {
		return nil, types.ErrNotLockOwner
	}

	//if already expired, cannot renew: someone else may claim it any moment
	if lock.IsExpired(cmd.Now) {
		return nil, types.ErrLockExpired
	}

	lock.TTL = cmd.TTL
	lock.ExpiresAt = cmd.Now.Add(cmd.TTL)

	return RenewLockResponse{Lock: *lock}, nil
}

// returned when a lock is released
type ReleaseLockResponse struct {
	Released bool
}

func (f *FSM) applyReleaseLock(cmd types.ReleaseLockCmd) (any, error) {
	lock, held := f.locks[cmd.Key]
	if !held {
		return nil, types.ErrLockNotFound
	}

	if lock.Holder != cmd.Holder {
		return nil, types.ErrNotLockOwner
	}

	delete(f.locks, cmd.Key)

	return ReleaseLockResponse{
		Released: true,
	}, nil
}

// returned when an expired lock is swept
type ExpireLockResponse struct {
	Expired bool
}

func (f *FSM) applyExpireLock(cmd types.ExpireLockCmd) (any, error) {
	lock, held := f.locks[cmd.Key]
	if !held {
		return nil, types.ErrLockNotFound
	}

	//reacquired or renewed since the sweeper looked: leave it alone
	if lock.FencingToken != cmd.FencingToken || !lock.IsExpired(cmd.Now) {
		return ExpireLockResponse{Expired: false}, nil
	}

	delete(f.locks, cmd.Key)

	return ExpireLockResponse{Expired: true}, nil
}

// returns a copy of the lock stored under key, expired or not
func (f *FSM) GetLock(key string) (types.Lock, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	lock, exists := f.locks[key]
	if !exists {
		return types.Lock{}, false
	}
	return *lock, true
}

// current fsm stats
type Stats struct {
	Locks          int
	FencingCounter uint64
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{
		Locks:          len(f.locks),
		FencingCounter: f.fencingCounter,
	}
}

// identifies one expired claim for the sweeper
type ExpiredLock struct {
	Key          string
	FencingToken uint64
}

// returns all locks that have expired at now, sorted by key
func (f *FSM) GetExpiredLocks(now time.Time) []ExpiredLock {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var expired []ExpiredLock
	for key, lock := range f.locks {
		if lock.IsExpired(now) {
			expired = append(expired, ExpiredLock{Key: key, FencingToken: lock.FencingToken})
		}
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].Key < expired[j].Key })
	return expired
}

func validate(key, holder string) error {
	if strings.TrimSpace(key) == "" {
		return types.ErrInvalidKey
	}
	if strings.TrimSpace(holder) == "" {
		return types.ErrInvalidHolder
	}
	return nil
}
