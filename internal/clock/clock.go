// Package clock provides the actor clock: the pure arithmetic mapping
// between wall-clock milliseconds and the discrete cycle numbers the
// reservation engine schedules work against.
package clock

import (
	"fmt"
	"time"
)

// ActorClock maps real time to discrete cycle numbers and back. It is
// immutable and safe to share across goroutines without synchronization.
type ActorClock struct {
	beginningOfTimeMs int64
	cycleMs           int64
}

// New creates an ActorClock. cycleMs must be positive.
func New(beginningOfTimeMs, cycleMs int64) (*ActorClock, error) {
	if cycleMs <= 0 {
		return nil, fmt.Errorf("clock: cycle_ms must be positive, got %d", cycleMs)
	}
	return &ActorClock{beginningOfTimeMs: beginningOfTimeMs, cycleMs: cycleMs}, nil
}

// BeginningOfTimeMs returns the clock's epoch in milliseconds.
func (c *ActorClock) BeginningOfTimeMs() int64 { return c.beginningOfTimeMs }

// CycleMs returns the clock's cycle length in milliseconds.
func (c *ActorClock) CycleMs() int64 { return c.cycleMs }

// Cycle returns the cycle number containing the given millisecond instant.
func (c *ActorClock) Cycle(ms int64) int64 {
	return (ms - c.beginningOfTimeMs) / c.cycleMs
}

// CycleOfDate returns the cycle number containing the given time.
func (c *ActorClock) CycleOfDate(t time.Time) int64 {
	return c.Cycle(t.UnixMilli())
}

// CycleStartMs returns the first millisecond of the given cycle.
func (c *ActorClock) CycleStartMs(cycle int64) int64 {
	return c.beginningOfTimeMs + cycle*c.cycleMs
}

// CycleEndMs returns the last millisecond of the given cycle (inclusive).
func (c *ActorClock) CycleEndMs(cycle int64) int64 {
	return c.CycleStartMs(cycle+1) - 1
}

// Date returns the wall-clock time of the first millisecond of the given cycle.
func (c *ActorClock) Date(cycle int64) time.Time {
	return time.UnixMilli(c.CycleStartMs(cycle)).UTC()
}

// Millis is an alias of CycleStartMs kept for readability at call sites that
// only care about "when does this cycle begin".
func (c *ActorClock) Millis(cycle int64) int64 {
	return c.CycleStartMs(cycle)
}
