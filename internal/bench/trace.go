package bench

import "github.com/banshee-data/marcopolo/internal/uart"

// Signal identifies a traced wire.
type Signal uint8

const (
	SignalRX Signal = iota
	SignalTX
	SignalBusy
	SignalTrigger
	SignalRxValid
	SignalFramingError
	numSignals
)

var signalNames = [numSignals]string{"rx", "tx", "busy", "trigger", "rx_valid", "framing_error"}

func (s Signal) String() string {
	if s < numSignals {
		return signalNames[s]
	}
	return "unknown"
}

// Signals lists every traced wire in display order.
func Signals() []Signal {
	out := make([]Signal, numSignals)
	for i := range out {
		out[i] = Signal(i)
	}
	return out
}

// Transition is a level change on one wire.
type Transition struct {
	Cycle  uint64
	Signal Signal
	Level  uint8
}

// Trace records level changes and activity events. Tick outputs are not
// traced; at one pulse per 651 cycles they would dominate the record.
type Trace struct {
	// Limit caps the number of transitions kept; zero means no cap.
	Limit       int
	Transitions []Transition
	Events      []uart.Event
	levels      [numSignals]uint8
	started     bool
	end         uint64
}

func NewTrace(limit int) *Trace { return &Trace{Limit: limit} }

// Observer returns the hook to register with Bench.Observe.
func (t *Trace) Observer() Observer {
	return func(cycle uint64, in uart.Inputs, out uart.Outputs) {
		t.Record(cycle, in, out)
	}
}

// Record captures one edge.
func (t *Trace) Record(cycle uint64, in uart.Inputs, out uart.Outputs) {
	levels := [numSignals]uint8{
		SignalRX:           in.RX & 1,
		SignalTX:           out.TX & 1,
		SignalBusy:         b2u(out.Busy),
		SignalTrigger:      b2u(out.Trigger),
		SignalRxValid:      b2u(out.RxValid),
		SignalFramingError: b2u(out.FramingError),
	}
	for s, lvl := range levels {
		if t.started && lvl == t.levels[s] {
			continue
		}
		if t.Limit > 0 && len(t.Transitions) >= t.Limit {
			break
		}
		t.Transitions = append(t.Transitions, Transition{Cycle: cycle, Signal: Signal(s), Level: lvl})
	}
	t.levels = levels
	t.started = true
	t.end = cycle
	t.Events = append(t.Events, uart.Events(cycle, out)...)
}

// End is the last recorded cycle.
func (t *Trace) End() uint64 { return t.end }

// Of returns the transitions of one wire in order.
func (t *Trace) Of(s Signal) []Transition {
	var out []Transition
	for _, tr := range t.Transitions {
		if tr.Signal == s {
			out = append(out, tr)
		}
	}
	return out
}

func b2u(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
