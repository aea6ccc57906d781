package monitor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/marcopolo/internal/bench"
	"github.com/banshee-data/marcopolo/internal/uart"
)

// PeriodStats summarises the spacing, in cycles, between successive
// pulses of one tick output.
type PeriodStats struct {
	Pulses int     `json:"pulses"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func (s PeriodStats) String() string {
	return fmt.Sprintf("%d pulses, period %.1f ± %.2f cycles (min %.0f, max %.0f)",
		s.Pulses, s.Mean, s.StdDev, s.Min, s.Max)
}

// TickReport holds the measured oversample and baud tick periods.
type TickReport struct {
	Oversample PeriodStats `json:"oversample"`
	Baud       PeriodStats `json:"baud"`
}

type pulseLog struct {
	last   uint64
	seen   bool
	pulses int
	gaps   []float64
}

func (l *pulseLog) add(cycle uint64) {
	l.pulses++
	if l.seen {
		l.gaps = append(l.gaps, float64(cycle-l.last))
	}
	l.last, l.seen = cycle, true
}

func (l *pulseLog) stats() PeriodStats {
	s := PeriodStats{Pulses: l.pulses}
	if len(l.gaps) == 0 {
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(l.gaps, nil)
	s.Min, s.Max = floats.Min(l.gaps), floats.Max(l.gaps)
	return s
}

// MeasureTicks clocks b for n cycles with its current inputs and reports
// the tick periods seen. A jitter-free generator has StdDev 0 and Mean
// equal to its divisor.
func MeasureTicks(b *bench.Bench, n int) TickReport {
	var over, baud pulseLog
	for i := 0; i < n; i++ {
		out := b.Clock()
		if out.OversampleTick {
			over.add(b.Cycle())
		}
		if out.BaudTick {
			baud.add(b.Cycle())
		}
	}
	return TickReport{Oversample: over.stats(), Baud: baud.stats()}
}

// ExpectedPeriods returns the divisors a report should match for cfg.
func ExpectedPeriods(cfg uart.Config) (oversample, baud float64) {
	return float64(cfg.Baud.OversampleDivisor()), float64(cfg.Baud.BaudDivisor())
}
