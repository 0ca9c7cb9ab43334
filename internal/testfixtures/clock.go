package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manual time source shared by the stores, the auth service and
// the scheduler under test. It only moves when a test moves it.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

// Now returns the instant the clock is stopped at.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowFunc returns Now for injection. A nil clock falls back to wall time.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// AdvanceTo moves the clock to deadline, typically a record's expiry.
// The clock never runs backwards; an earlier deadline leaves it unchanged.
func (c *Clock) AdvanceTo(deadline time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline.After(c.now) {
		c.now = deadline
	}
	return c.now
}

// Current is Now for assertions that read the clock without moving it.
func (c *Clock) Current() time.Time {
	return c.Now()
}
