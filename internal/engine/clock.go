package engine

import "sync/atomic"

// Clock hands out the Seq stamped on appended records. Values are strictly
// increasing across every flow of one engine, so comparing Seq orders any two
// records; wall time may repeat and is only for display.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock whose first Next is start+1.
func NewClockAt(start int64) *Clock {
	c := new(Clock)
	c.last.Store(start)
	return c
}

// Next advances the clock and returns the new value. Safe for concurrent use.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current returns the last value handed out, or the start value.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
