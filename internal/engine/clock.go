package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps computation versions.
//
// Every markDirty and every recompute takes a fresh value, so versions are
// comparable across a Variable's whole lifetime. A result carrying a version
// older than the latest one started for its Variable is stale.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
