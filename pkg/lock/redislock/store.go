package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pixperk/flowkey/pkg/lock"
	ftime "github.com/pixperk/flowkey/pkg/time"
	"github.com/pixperk/flowkey/pkg/types"
)

// Compile-time interface check.
var _ lock.Store = (*Store)(nil)

const keyPrefix = "flowkey:"

// lockKey returns the hash holding a claim: flowkey:lock:{key}
func lockKey(key string) string { return keyPrefix + "lock:{" + key + "}" }

// fenceKey returns the fencing counter of a key: flowkey:fence:{key}
func fenceKey(key string) string { return keyPrefix + "fence:{" + key + "}" }

// KEYS[1] lock hash, KEYS[2] fence counter
// ARGV[1] holder, ARGV[2] ttl ms, ARGV[3] now unix ms
// returns {0} when held by someone else, else {1, token, acquired_ms, ttl_ms, pttl}
var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if holder then
  if holder ~= ARGV[1] then
    return {0}
  end
  local f = redis.call('HMGET', KEYS[1], 'token', 'acquired_ms', 'ttl_ms')
  return {1, f[1], f[2], f[3], redis.call('PTTL', KEYS[1])}
end
local token = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1], 'holder', ARGV[1], 'token', token, 'acquired_ms', ARGV[3], 'ttl_ms', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, tostring(token), ARGV[3], ARGV[2], tonumber(ARGV[2])}
`)

// KEYS[1] lock hash; ARGV[1] holder
// returns 1 released, 0 not found, -1 held by someone else
var releaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if not holder then
  return 0
end
if holder ~= ARGV[1] then
  return -1
end
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1] lock hash; ARGV[1] holder, ARGV[2] ttl ms
// returns {0} not found, {-1} not owner, else {1, token, acquired_ms, ttl_ms, pttl}
var renewScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if not holder then
  return {0}
end
if holder ~= ARGV[1] then
  return {-1}
end
redis.call('HSET', KEYS[1], 'ttl_ms', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
local f = redis.call('HMGET', KEYS[1], 'token', 'acquired_ms')
return {1, f[1], f[2], ARGV[2], tonumber(ARGV[2])}
`)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used to stamp acquisitions.
func WithClock(c ftime.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store implements lock.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	clock  ftime.Clock
	logger *slog.Logger
}

// New creates a Redis-backed lock store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, clock: ftime.NewClock(), logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	if key == "" {
		return types.Lock{}, types.ErrInvalidKey
	}
	if holder == "" {
		return types.Lock{}, types.ErrInvalidHolder
	}
	if ttl < time.Millisecond {
		return types.Lock{}, types.ErrInvalidTTL
	}

	now := s.clock.Now()
	res, err := acquireScript.Run(ctx, s.client,
		[]string{lockKey(key), fenceKey(key)},
		holder, ttl.Milliseconds(), now.UnixMilli(),
	).Slice()
	if err != nil {
		return types.Lock{}, fmt.Errorf("flowkey/redis: acquire: %w", err)
	}

	switch status := toInt64(res[0]); status {
	case 0:
		return types.Lock{}, types.ErrLockAlreadyHeld
	case 1:
		return parseClaim(key, holder, now, res)
	default:
		return types.Lock{}, fmt.Errorf("flowkey/redis: acquire: unexpected status %d", status)
	}
}

func (s *Store) Release(ctx context.Context, key, holder string) error {
	res, err := releaseScript.Run(ctx, s.client, []string{lockKey(key)}, holder).Int64()
	if err != nil {
		return fmt.Errorf("flowkey/redis: release: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return types.ErrLockNotFound
	default:
		return types.ErrNotLockOwner
	}
}

func (s *Store) Renew(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	if ttl < time.Millisecond {
		return types.Lock{}, types.ErrInvalidTTL
	}

	now := s.clock.Now()
	res, err := renewScript.Run(ctx, s.client, []string{lockKey(key)}, holder, ttl.Milliseconds()).Slice()
	if err != nil {
		return types.Lock{}, fmt.Errorf("flowkey/redis: renew: %w", err)
	}

	switch status := toInt64(res[0]); status {
	case 0:
		//PEXPIRE already dropped it, or it was never there
		return types.Lock{}, types.ErrLockNotFound
	case -1:
		return types.Lock{}, types.ErrNotLockOwner
	default:
		return parseClaim(key, holder, now, res)
	}
}

// res = {1, token, acquired_ms, ttl_ms, pttl}
func parseClaim(key, holder string, now time.Time, res []any) (types.Lock, error) {
	if len(res) != 5 {
		return types.Lock{}, fmt.Errorf("flowkey/redis: malformed claim reply of %d elements", len(res))
	}

	token, err := strconv.ParseUint(fmt.Sprint(res[1]), 10, 64)
	if err != nil {
		return types.Lock{}, fmt.Errorf("flowkey/redis: parse token: %w", err)
	}
	acquiredMs := toInt64(res[2])
	ttlMs := toInt64(res[3])
	pttl := toInt64(res[4])
	if pttl < 0 {
		pttl = 0
	}

	return types.Lock{
		Key:          key,
		Holder:       holder,
		FencingToken: token,
		AcquiredAt:   time.UnixMilli(acquiredMs).UTC(),
		TTL:          time.Duration(ttlMs) * time.Millisecond,
		ExpiresAt:    now.Add(time.Duration(pttl) * time.Millisecond),
	}, nil
}

// script replies mix integers and bulk strings
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64) //nolint:errcheck // best-effort parse of our own script reply
		return i
	default:
		return 0
	}
}
