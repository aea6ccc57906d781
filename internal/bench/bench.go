// Package bench drives a uart.Core cycle by cycle the way a simulation
// testbench drives the design: reset sequencing, serial stimulus on the RX
// line and observation of every output edge.
package bench

import (
	"errors"
	"fmt"

	"github.com/banshee-data/marcopolo/internal/uart"
)

var (
	ErrTimeout = errors.New("bench: timed out waiting for condition")
	ErrNoReply = errors.New("bench: trigger never fired")
)

// Observer is called after every clock edge with the inputs applied and
// the outputs produced. cycle counts edges since the bench was built.
type Observer func(cycle uint64, in uart.Inputs, out uart.Outputs)

// Bench owns the input signals of one Core.
type Bench struct {
	core      *uart.Core
	in        uart.Inputs
	cycle     uint64
	observers []Observer
}

func New(core *uart.Core) *Bench {
	return &Bench{core: core, in: uart.Idle()}
}

// NewDefault builds a bench around the default MARCO/POLO core.
func NewDefault() *Bench {
	core, err := uart.New(uart.DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("default config rejected: %v", err))
	}
	return New(core)
}

func (b *Bench) Core() *uart.Core    { return b.core }
func (b *Bench) Cycle() uint64       { return b.cycle }
func (b *Bench) Inputs() uart.Inputs { return b.in }

// Observe registers fn for every subsequent edge.
func (b *Bench) Observe(fn Observer) { b.observers = append(b.observers, fn) }

func (b *Bench) SetRX(level uint8) { b.in.RX = level & 1 }
func (b *Bench) SetEnable(on bool) { b.in.Enable = on }
func (b *Bench) SetResetN(on bool) { b.in.ResetN = on }

// Clock applies one rising edge.
func (b *Bench) Clock() uart.Outputs {
	out := b.core.Step(b.in)
	b.cycle++
	for _, fn := range b.observers {
		fn(b.cycle, b.in, out)
	}
	return out
}

// Run applies n edges and returns the outputs of the last one.
func (b *Bench) Run(n int) uart.Outputs {
	out := b.core.Outputs()
	for i := 0; i < n; i++ {
		out = b.Clock()
	}
	return out
}

// Reset holds reset low for cycles edges and releases it.
func (b *Bench) Reset(cycles int) {
	b.in.ResetN = false
	b.Run(cycles)
	b.in.ResetN = true
}

// WaitFor clocks until pred holds for an edge's outputs, returning the
// number of edges it took.
func (b *Bench) WaitFor(pred func(uart.Outputs) bool, maxCycles int) (int, error) {
	for i := 1; i <= maxCycles; i++ {
		if pred(b.Clock()) {
			return i, nil
		}
	}
	return maxCycles, fmt.Errorf("%w after %d cycles", ErrTimeout, maxCycles)
}

// CountRising clocks n edges and counts low-to-high transitions of sel.
func (b *Bench) CountRising(sel func(uart.Outputs) bool, n int) int {
	prev := sel(b.core.Outputs())
	count := 0
	for i := 0; i < n; i++ {
		cur := sel(b.Clock())
		if cur && !prev {
			count++
		}
		prev = cur
	}
	return count
}

// SendBits holds each level on the RX line for bitCycles edges.
func (b *Bench) SendBits(bits []uint8, bitCycles int) {
	for _, bit := range bits {
		b.SetRX(bit)
		b.Run(bitCycles)
	}
}

// SendFrame drives one 8-N-1 frame.
func (b *Bench) SendFrame(v byte, bitCycles int) {
	f := uart.EncodeFrame(v)
	b.SendBits(f[:], bitCycles)
}

// Send drives each byte as a frame followed by gapBits idle bit periods.
func (b *Bench) Send(data []byte, bitCycles, gapBits int) {
	for _, v := range data {
		b.SendFrame(v, bitCycles)
		b.SetRX(1)
		b.Run(bitCycles * gapBits)
	}
}
