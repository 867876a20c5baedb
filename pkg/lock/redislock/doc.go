// Package redislock implements lock.Store on Redis.
//
// Each lock is a hash under "flowkey:lock:{key}" carrying the holder token,
// fencing token and timing, expired by PEXPIRE. Claims, releases and renewals
// are Lua scripts so the holder check and the write happen atomically. The
// fencing counter lives next to the lock under "flowkey:fence:{key}"; the
// hash tag keeps both in one cluster slot.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	locks := lock.NewManager(redislock.New(client))
package redislock
