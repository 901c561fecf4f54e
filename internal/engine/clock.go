package engine

import "sync/atomic"

// SeqSource hands out the logical sequence numbers stamped on ledger rows and
// cursor updates. Wall-clock time is never used for ordering.
type SeqSource interface {
	Next() int64
	Current() int64
}

// Clock is a monotonic logical clock. Safe for concurrent use: partner
// workers share one clock so ledger rows have a single total order.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, e.g. the highest seq
// already in the ledger.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
