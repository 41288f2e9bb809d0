package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant reported by a new DeterministicClock.
var DefaultEpoch = time.Date(2021, time.March, 4, 10, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe logical clock for tests.
//
// Next returns 1, 2, 3, ... and Now maps the current tick to Epoch plus that
// many seconds, so log timestamps advance between engine runs without
// depending on the wall clock.
type DeterministicClock struct {
	mu    sync.Mutex
	seq   int64
	epoch time.Time
}

// NewDeterministicClock creates a clock at tick 0 and DefaultEpoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{epoch: DefaultEpoch}
}

// NewDeterministicClockAt creates a clock at tick 0 and the given epoch.
func NewDeterministicClockAt(epoch time.Time) *DeterministicClock {
	return &DeterministicClock{epoch: epoch}
}

// Next increments and returns the tick.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the tick without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the clock and returns the corresponding instant.
func (c *DeterministicClock) Now() time.Time {
	return c.epoch.Add(time.Duration(c.Next()) * time.Second)
}

// Reset rewinds the clock to tick 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
