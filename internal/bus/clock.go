package bus

import "sync/atomic"

// Clock is a monotonic logical clock for patch ordering.
//
// Every admitted patch is stamped with a strictly increasing value from
// this clock. Wall time never orders patches: logical stamps make replay
// deterministic and keep priority tie-breaking free of clock skew.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific value. Used when
// restoring a world so new stamps sort after everything in the snapshot.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next stamp and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the current stamp without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
