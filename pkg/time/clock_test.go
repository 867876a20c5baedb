package time

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	c := NewClock()

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		assert.False(t, now.Before(prev), "clock went backwards")
		prev = now
	}
}

func TestMonotonicExpiresAt(t *testing.T) {
	c := NewClock()

	exp := c.ExpiresAt(time.Minute)
	assert.True(t, exp.After(c.Now()))
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start, m.Now())
	m.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), m.Now())
}
