package fsm

import (
	"fmt"
	"testing"
	"time"

	"github.com/pixperk/flowkey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func acquire(t *testing.T, f *FSM, key, holder string, ttl time.Duration, now time.Time) (types.Lock, error) {
	t.Helper()
	result, err := f.Apply(types.AcquireLockCmd{Key: key, Holder: holder, TTL: ttl, Now: now})
	if err != nil {
		return types.Lock{}, err
	}
	resp, ok := result.(AcquireLockResponse)
	require.True(t, ok, "expected AcquireLockResponse")
	return resp.Lock, nil
}

// TestAcquireLock tests lock acquisition with fencing token
func TestAcquireLock(t *testing.T) {
	fsm := NewFSM()

	lock, err := acquire(t, fsm, "plan:p1", "holder-1", 30*time.Second, epoch)
	require.NoError(t, err)
	assert.NotZero(t, lock.FencingToken)
	assert.Equal(t, epoch, lock.AcquiredAt)
	assert.Equal(t, epoch.Add(30*time.Second), lock.ExpiresAt)

	// Verify lock was stored
	stored, exists := fsm.GetLock("plan:p1")
	require.True(t, exists, "lock should exist")
	assert.Equal(t, "holder-1", stored.Holder)
	assert.Equal(t, lock.FencingToken, stored.FencingToken)
}

// TestFencingTokenMonotonicity tests that fencing tokens strictly increase
func TestFencingTokenMonotonicity(t *testing.T) {
	fsm := NewFSM()

	tokens := make([]uint64, 10)
	for i := 0; i < 10; i++ {
		lock, err := acquire(t, fsm, fmt.Sprintf("lock-%d", i), "holder-1", 10*time.Second, epoch)
		require.NoError(t, err)
		tokens[i] = lock.FencingToken
	}

	// Verify strictly increasing
	for i := 1; i < len(tokens); i++ {
		assert.Greater(t, tokens[i], tokens[i-1], "tokens must be strictly increasing")
	}

	// Final token should be 10
	assert.Equal(t, uint64(10), tokens[9])
}

// TestLockAlreadyHeld tests that a live lock can't be claimed by another holder
func TestLockAlreadyHeld(t *testing.T) {
	fsm := NewFSM()

	_, err := acquire(t, fsm, "my-lock", "holder-1", 10*time.Second, epoch)
	require.NoError(t, err, "holder 1 should acquire")

	_, err = acquire(t, fsm, "my-lock", "holder-2", 10*time.Second, epoch.Add(time.Second))
	assert.ErrorIs(t, err, types.ErrLockAlreadyHeld)
}

// TestReacquireSameHolder tests idempotent re-acquisition by the current holder
func TestReacquireSameHolder(t *testing.T) {
	fsm := NewFSM()

	first, err := acquire(t, fsm, "my-lock", "holder-1", 10*time.Second, epoch)
	require.NoError(t, err)

	second, err := acquire(t, fsm, "my-lock", "holder-1", 10*time.Second, epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, first.FencingToken, second.FencingToken, "reacquiring should return the same claim")
}

// TestAcquireAfterExpiry tests that an expired lock is treated as absent
func TestAcquireAfterExpiry(t *testing.T) {
	fsm := NewFSM()

	old, err := acquire(t, fsm, "my-lock", "holder-1", time.Second, epoch)
	require.NoError(t, err)

	fresh, err := acquire(t, fsm, "my-lock", "holder-2", time.Second, epoch.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "holder-2", fresh.Holder)
	assert.Greater(t, fresh.FencingToken, old.FencingToken)
}

// TestReleaseLock tests lock release
func TestReleaseLock(t *testing.T) {
	fsm := NewFSM()

	_, err := acquire(t, fsm, "my-lock", "holder-1", 10*time.Second, epoch)
	require.NoError(t, err)

	result, err := fsm.Apply(types.ReleaseLockCmd{Key: "my-lock", Holder: "holder-1"})
	require.NoError(t, err)

	resp, ok := result.(ReleaseLockResponse)
	require.True(t, ok, "expected ReleaseLockResponse")
	assert.True(t, resp.Released)

	// Verify lock is gone
	_, exists := fsm.GetLock("my-lock")
	assert.False(t, exists, "lock should be deleted")
}

// TestStaleReleaseDoesNotRevoke tests that an expired holder cannot release the new holder's lock
func TestStaleReleaseDoesNotRevoke(t *testing.T) {
	fsm := NewFSM()

	_, err := acquire(t, fsm, "my-lock", "stale", time.Second, epoch)
	require.NoError(t, err)

	//ttl passes, a new holder claims the key
	_, err = acquire(t, fsm, "my-lock", "fresh", 10*time.Second, epoch.Add(2*time.Second))
	require.NoError(t, err)

	//stale holder wakes up and releases
	_, err = fsm.Apply(types.ReleaseLockCmd{Key: "my-lock", Holder: "stale"})
	assert.ErrorIs(t, err, types.ErrNotLockOwner)

	lock, exists := fsm.GetLock("my-lock")
	require.True(t, exists, "new holder's lock must survive")
	assert.Equal(t, "fresh", lock.Holder)

	//new holder can still renew and release
	_, err = fsm.Apply(types.RenewLockCmd{Key: "my-lock", Holder: "fresh", TTL: 10 * time.Second, Now: epoch.Add(3 * time.Second)})
	require.NoError(t, err)
	_, err = fsm.Apply(types.ReleaseLockCmd{Key: "my-lock", Holder: "fresh"})
	require.NoError(t, err)
}

func TestRenewLock(t *testing.T) {
	fsm := NewFSM()

	_, err := acquire(t, fsm, "my-lock", "holder-1", 5*time.Second, epoch)
	require.NoError(t, err)

	result, err := fsm.Apply(types.RenewLockCmd{Key: "my-lock", Holder: "holder-1", TTL: 5 * time.Second, Now: epoch.Add(4 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(9*time.Second), result.(RenewLockResponse).Lock.ExpiresAt)

	_, err = fsm.Apply(types.RenewLockCmd{Key: "my-lock", Holder: "holder-2", TTL: 5 * time.Second, Now: epoch.Add(4 * time.Second)})
	assert.ErrorIs(t, err, types.ErrNotLockOwner)

	_, err = fsm.Apply(types.RenewLockCmd{Key: "my-lock", Holder: "holder-1", TTL: 5 * time.Second, Now: epoch.Add(20 * time.Second)})
	assert.ErrorIs(t, err, types.ErrLockExpired)
}

// TestExpireLock tests that the sweeper only drops the exact expired claim
func TestExpireLock(t *testing.T) {
	fsm := NewFSM()

	old, err := acquire(t, fsm, "my-lock", "holder-1", time.Second, epoch)
	require.NoError(t, err)

	expired := fsm.GetExpiredLocks(epoch.Add(2 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, ExpiredLock{Key: "my-lock", FencingToken: old.FencingToken}, expired[0])

	//key reclaimed before the sweep command lands
	_, err = acquire(t, fsm, "my-lock", "holder-2", 10*time.Second, epoch.Add(2*time.Second))
	require.NoError(t, err)

	result, err := fsm.Apply(types.ExpireLockCmd{Key: "my-lock", FencingToken: old.FencingToken, Now: epoch.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.False(t, result.(ExpireLockResponse).Expired, "stale sweep must not drop the new claim")

	result, err = fsm.Apply(types.ExpireLockCmd{Key: "my-lock", FencingToken: old.FencingToken + 1, Now: epoch.Add(20 * time.Second)})
	require.NoError(t, err)
	assert.True(t, result.(ExpireLockResponse).Expired)
	assert.Equal(t, 0, fsm.Stats().Locks)
}

func TestAcquireValidation(t *testing.T) {
	fsm := NewFSM()

	_, err := acquire(t, fsm, "", "holder-1", time.Second, epoch)
	assert.ErrorIs(t, err, types.ErrInvalidKey)

	_, err = acquire(t, fsm, "k", " ", time.Second, epoch)
	assert.ErrorIs(t, err, types.ErrInvalidHolder)

	_, err = acquire(t, fsm, "k", "h", 0, epoch)
	assert.ErrorIs(t, err, types.ErrInvalidTTL)
}

func TestReleaseUnknownLock(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.ReleaseLockCmd{Key: "missing", Holder: "h"})
	assert.ErrorIs(t, err, types.ErrLockNotFound)
}
