package time

import (
	"sync"
	"time"
)

// source of "now" for lock expiry decisions
type Clock interface {
	Now() time.Time
}

// monotonic provides wall time anchored at creation and advanced by the monotonic clock
// time.Now alone can go backwards if system time is changed
// we always move forward relative to a fixed start instant
type Monotonic struct {
	startWall time.Time // wall reading without monotonic component
	startMono time.Time // full reading, used only for time.Since
}

func NewClock() *Monotonic {
	now := time.Now()
	return &Monotonic{
		startWall: now.Round(0),
		startMono: now,
	}
}

// duration since clock creation, never decreases
func (c *Monotonic) Elapsed() time.Duration {
	return time.Since(c.startMono)
}

func (c *Monotonic) Now() time.Time {
	return c.startWall.Add(c.Elapsed())
}

// returns the expiration instant given a TTL
func (c *Monotonic) ExpiresAt(ttl time.Duration) time.Time {
	return c.Now().Add(ttl)
}

// manual clock for tests, only moves when told to
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
