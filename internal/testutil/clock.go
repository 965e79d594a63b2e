package testutil

import (
	"sync"
	"time"
)

// Epoch is the instant a FakeClock starts at unless told otherwise.
var Epoch = time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)

// FakeClock is a wall clock that only moves when told to.
//
// It satisfies every Clock interface in this module (Now() time.Time), so
// cache staleness and report dates can be driven deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock reading Epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: Epoch}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Reset moves the clock back to Epoch.
func (c *FakeClock) Reset() {
	c.Set(Epoch)
}
