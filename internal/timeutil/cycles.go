package timeutil

import (
	"time"
)

// CycleClock converts simulated clock cycles to time at a fixed frequency,
// anchored at Epoch (cycle 0).
type CycleClock struct {
	Epoch time.Time
	Hz    int
}

// NewCycleClock panics if hz is not positive.
func NewCycleClock(epoch time.Time, hz int) CycleClock {
	if hz <= 0 {
		panic("timeutil: clock frequency must be positive")
	}
	return CycleClock{Epoch: epoch, Hz: hz}
}

// Duration is the simulated time taken by n cycles, truncated to the
// nanosecond.
func (c CycleClock) Duration(n uint64) time.Duration {
	sec := n / uint64(c.Hz)
	rem := n % uint64(c.Hz)
	return time.Duration(sec)*time.Second + time.Duration(rem*uint64(time.Second)/uint64(c.Hz))
}

// At returns the timestamp of cycle n.
func (c CycleClock) At(n uint64) time.Time {
	return c.Epoch.Add(c.Duration(n))
}

// Cycles is the number of whole cycles that fit in d.
func (c CycleClock) Cycles(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	sec := uint64(d / time.Second)
	rem := uint64(d % time.Second)
	return sec*uint64(c.Hz) + rem*uint64(c.Hz)/uint64(time.Second)
}
