package bench

import (
	"fmt"

	"github.com/banshee-data/marcopolo/internal/uart"
)

// Scenario reproduces the timing of the hardware test harness.
type Scenario struct {
	ResetCycles    int // reset held low after power-up
	SettleCycles   int // idle cycles before the first frame
	GapBits        int // idle bit periods after each frame
	TriggerTimeout int // cycles to wait for the trigger after the last frame
	ReplyTimeout   int // cycles to wait for busy to rise, then again to fall
}

// DefaultScenario matches the reference harness: 5 reset cycles, 100
// settle cycles, two idle bit periods between characters.
func DefaultScenario() Scenario {
	return Scenario{
		ResetCycles:    5,
		SettleCycles:   100,
		GapBits:        2,
		TriggerTimeout: 10_000,
		ReplyTimeout:   2_000_000,
	}
}

// Exchange is the result of one request/response run.
type Exchange struct {
	Sent          []byte
	Reply         []byte
	TriggerCycle  uint64
	BusyCycle     uint64
	DoneCycle     uint64
	FramingErrors int
}

// RunExchange resets the core, sends msg on RX and collects whatever the
// core transmits in response.
func (b *Bench) RunExchange(msg []byte, sc Scenario) (Exchange, error) {
	cfg := b.core.Config()
	bitCycles := cfg.Baud.BitCycles()

	dec := NewLineDecoder(cfg.Baud, cfg.SampleWindow)
	ex := Exchange{Sent: append([]byte(nil), msg...)}
	var triggered, busySeen bool
	b.Observe(func(cycle uint64, in uart.Inputs, out uart.Outputs) {
		dec.Feed(cycle, out.TX)
		if out.Trigger && !triggered {
			triggered = true
			ex.TriggerCycle = cycle
		}
		if out.Busy && !busySeen && triggered {
			busySeen = true
			ex.BusyCycle = cycle
		}
	})
	defer func() { b.observers = b.observers[:len(b.observers)-1] }()

	b.SetRX(1)
	b.Reset(sc.ResetCycles)
	b.Run(sc.SettleCycles)
	b.Send(msg, bitCycles, sc.GapBits)

	if !triggered {
		if _, err := b.WaitFor(func(o uart.Outputs) bool { return o.Trigger }, sc.TriggerTimeout); err != nil {
			return ex, fmt.Errorf("%w: %v", ErrNoReply, err)
		}
	}
	if !busySeen {
		if _, err := b.WaitFor(func(o uart.Outputs) bool { return o.Busy }, sc.ReplyTimeout); err != nil {
			return ex, fmt.Errorf("waiting for tx busy: %w", err)
		}
	}
	if b.core.Outputs().Busy {
		if _, err := b.WaitFor(func(o uart.Outputs) bool { return !o.Busy }, sc.ReplyTimeout); err != nil {
			return ex, fmt.Errorf("waiting for tx idle: %w", err)
		}
	}
	ex.DoneCycle = b.cycle
	ex.Reply = dec.Bytes()
	ex.FramingErrors = dec.FramingErrors()
	return ex, nil
}
