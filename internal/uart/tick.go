package uart

// TickGenerator is a free-running divide-by-N counter. It pulses on the
// N-th call to Tick after construction or Reset, then every N calls.
type TickGenerator struct {
	divisor int
	count   int
}

// NewTickGenerator panics on a non-positive divisor; divisors are validated
// by Config.Validate before any generator is built.
func NewTickGenerator(divisor int) *TickGenerator {
	if divisor <= 0 {
		panic("uart: tick divisor must be positive")
	}
	return &TickGenerator{divisor: divisor}
}

// Tick advances the counter by one clock cycle and reports whether this
// cycle carries a pulse.
func (g *TickGenerator) Tick() bool {
	if g.count == g.divisor-1 {
		g.count = 0
		return true
	}
	g.count++
	return false
}

// Reset zeroes the counter so the next pulse is exactly divisor cycles away.
func (g *TickGenerator) Reset() { g.count = 0 }

func (g *TickGenerator) Divisor() int { return g.divisor }

// Count is the number of cycles since the last pulse or reset.
func (g *TickGenerator) Count() int { return g.count }
