package checkpoint

import "time"

// DefaultYieldCadence is the default interval at which the partition
// pipeline releases and reacquires the checkpoint read-lock while walking
// a tree, giving a queued checkpoint a chance to run (spec §4.1, §8
// property 7: observed yield gaps must stay ≤200ms given a 150ms cadence).
const DefaultYieldCadence = 150 * time.Millisecond

// Yielder tracks elapsed time since the last read-lock release so callers
// can decide when to yield without sprinkling time.Now() calls through the
// pipeline.
type Yielder struct {
	every time.Duration
	last  time.Time
}

// NewYielder builds a Yielder with the given cadence. A non-positive
// cadence falls back to DefaultYieldCadence.
func NewYielder(every time.Duration) *Yielder {
	if every <= 0 {
		every = DefaultYieldCadence
	}
	return &Yielder{every: every, last: time.Now()}
}

// ShouldYield reports whether at least one cadence interval has elapsed
// since the last Reset.
func (y *Yielder) ShouldYield() bool {
	return time.Since(y.last) >= y.every
}

// Reset marks the read-lock as freshly reacquired.
func (y *Yielder) Reset() {
	y.last = time.Now()
}
