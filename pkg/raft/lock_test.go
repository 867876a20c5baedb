package raft

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixperk/flowkey/pkg/lock"
	ftime "github.com/pixperk/flowkey/pkg/time"
	"github.com/pixperk/flowkey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentLockAcquisition(t *testing.T) {
	node := startNode(t, testConfig(t, "127.0.0.1:0"))
	defer node.Shutdown()

	//all 3 clients try to acquire the same lock concurrently
	var wg sync.WaitGroup
	results := make([]struct {
		success      bool
		fencingToken uint64
		err          error
	}, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			claim, err := node.TryAcquire(context.Background(), "contended-lock", fmt.Sprintf("client-%d", idx), 10*time.Second)
			if err != nil {
				results[idx].err = err
				return
			}
			results[idx].success = true
			results[idx].fencingToken = claim.FencingToken
		}(i)
	}
	wg.Wait()

	successCount, failedCount := 0, 0
	var winnerToken uint64
	for _, r := range results {
		switch {
		case r.success:
			successCount++
			winnerToken = r.fencingToken
		case r.err == types.ErrLockAlreadyHeld:
			failedCount++
		}
	}

	assert.Equal(t, 1, successCount, "only one client should acquire the lock")
	assert.Greater(t, winnerToken, uint64(0), "winner should have a fencing token")
	assert.Equal(t, 2, failedCount, "two clients should get ErrLockAlreadyHeld")
}

// TestSweeperExpiresLocks tests that the leader drops locks whose TTL passed
func TestSweeperExpiresLocks(t *testing.T) {
	clock := ftime.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := testConfig(t, "127.0.0.1:0")
	cfg.Clock = clock
	cfg.SweepInterval = 20 * time.Millisecond

	node := startNode(t, cfg)
	defer node.Shutdown()
	ctx := context.Background()

	_, err := node.TryAcquire(ctx, "short", "h1", time.Second)
	require.NoError(t, err)
	_, err = node.TryAcquire(ctx, "long", "h1", time.Hour)
	require.NoError(t, err)

	//nothing expires while the clock stands still
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, node.Stats().Locks)

	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		_, ok := node.GetLock("short")
		return !ok
	}, 2*time.Second, 20*time.Millisecond, "expired lock should be swept")

	_, ok := node.GetLock("long")
	assert.True(t, ok, "live lock must survive the sweep")

	//a renew that raced the sweeper finds nothing
	_, err = node.Renew(ctx, "short", "h1", time.Second)
	assert.ErrorIs(t, err, types.ErrLockNotFound)
}

// TestManagerOverRaft tests the lock manager with the replicated store
func TestManagerOverRaft(t *testing.T) {
	node := startNode(t, testConfig(t, "127.0.0.1:0"))
	defer node.Shutdown()

	m := lock.NewManager(node, lock.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var inside, violations int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "plan:shared", 10*time.Second, func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&violations, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, violations)
	assert.Equal(t, 0, node.Stats().Locks)
	assert.Equal(t, uint64(5), node.Stats().FencingCounter)
}
