package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// TestEncodeDecodeAcquire tests that time-dependent fields survive the raft log encoding
func TestEncodeDecodeAcquire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	data, err := EncodeCommand(AcquireLockCmd{
		Key:    "plan:owner-42",
		Holder: "holder-1",
		TTL:    30 * time.Second,
		Now:    now,
	})
	require.NoError(t, err)

	cmd, err := DecodeCommand(data)
	require.NoError(t, err)

	acquire, ok := cmd.(AcquireLockCmd)
	require.True(t, ok, "expected AcquireLockCmd, got %T", cmd)
	assert.Equal(t, "plan:owner-42", acquire.Key)
	assert.Equal(t, "holder-1", acquire.Holder)
	assert.Equal(t, 30*time.Second, acquire.TTL)
	assert.True(t, now.Equal(acquire.Now), "now should round-trip with nanosecond precision")
}

// TestEncodeDecodeExpireKeepsLargeToken tests that fencing tokens beyond float64 precision are preserved
func TestEncodeDecodeExpireKeepsLargeToken(t *testing.T) {
	token := uint64(math.MaxUint64 - 7)

	data, err := EncodeCommand(ExpireLockCmd{Key: "k", FencingToken: token, Now: time.Now()})
	require.NoError(t, err)

	cmd, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, token, cmd.(ExpireLockCmd).FencingToken)
}

func TestDecodeUnknownCommand(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"type": float64(99)})
	require.NoError(t, err)
	data, err := proto.Marshal(s)
	require.NoError(t, err)

	_, err = DecodeCommand(data)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestLockProtoRoundTrip(t *testing.T) {
	acquired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lock := Lock{
		Key:          "plan:p1",
		Holder:       "h",
		FencingToken: 1 << 60,
		AcquiredAt:   acquired,
		TTL:          1500 * time.Millisecond,
		ExpiresAt:    acquired.Add(1500 * time.Millisecond),
	}

	got, err := LockFromProto(LockToProto(lock))
	require.NoError(t, err)
	assert.Equal(t, lock.Key, got.Key)
	assert.Equal(t, lock.FencingToken, got.FencingToken)
	assert.Equal(t, lock.TTL, got.TTL)
	assert.True(t, lock.ExpiresAt.Equal(got.ExpiresAt))
}

func TestLockExpiry(t *testing.T) {
	now := time.Now()
	lock := Lock{ExpiresAt: now.Add(time.Second)}

	assert.False(t, lock.IsExpired(now))
	assert.Equal(t, time.Second, lock.Remaining(now))
	assert.True(t, lock.IsExpired(now.Add(time.Second)), "a lock expires exactly at ExpiresAt")
	assert.Zero(t, lock.Remaining(now.Add(2*time.Second)))
}
