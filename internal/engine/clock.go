package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies server timestamps for appended events.
//
// It reads the wall clock but never goes backwards: a reading earlier than
// the previous one returns the previous one. The store additionally clamps
// each timestamp to the log head, so ordering holds across processes too.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	last atomic.Int64 // unix nanos of the latest reading
	now  func() time.Time
}

// NewClock creates a clock over the system wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockFunc creates a clock over now. Used by tests.
func NewClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current time, never earlier than a previous reading.
func (c *Clock) Now() time.Time {
	for {
		t := c.now().UTC()
		n := t.UnixNano()
		last := c.last.Load()
		if n <= last {
			return time.Unix(0, last).UTC()
		}
		if c.last.CompareAndSwap(last, n) {
			return t
		}
	}
}
