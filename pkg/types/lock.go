package types

import "time"

// lock is a named, time-bounded exclusive claim held by an opaque holder token
// the holder token is fresh per acquisition, so a stale holder can never release a newer claim
// fencing token is strictly monotonic and incremented on each successful acquisition
type Lock struct {
	Key          string        `json:"key"`
	Holder       string        `json:"holder"`
	FencingToken uint64        `json:"fencing_token"`
	AcquiredAt   time.Time     `json:"acquired_at"`
	TTL          time.Duration `json:"ttl"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// an expired lock is treated as absent by acquire
func (l *Lock) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// remaining TTL at now, zero once expired
func (l *Lock) Remaining(now time.Time) time.Duration {
	if l.IsExpired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
