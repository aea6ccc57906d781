package bench

import "github.com/banshee-data/marcopolo/internal/uart"

// LineDecoder recovers bytes from the TX line with its own tick generator
// and receiver, as an external UART listening on the pin would.
type LineDecoder struct {
	tick     *uart.TickGenerator
	rx       *uart.Receiver
	bytes    []byte
	errors   int
	lastByte uint64
}

func NewLineDecoder(baud uart.BaudConfig, window int) *LineDecoder {
	return &LineDecoder{
		tick: uart.NewTickGenerator(baud.OversampleDivisor()),
		rx:   uart.NewReceiver(window),
	}
}

// Observer returns the hook to register with Bench.Observe.
func (d *LineDecoder) Observer() Observer {
	return func(cycle uint64, _ uart.Inputs, out uart.Outputs) {
		d.Feed(cycle, out.TX)
	}
}

// Feed samples the line for one clock edge.
func (d *LineDecoder) Feed(cycle uint64, line uint8) {
	ev := d.rx.Step(d.tick.Tick(), line)
	switch {
	case ev.Valid:
		d.bytes = append(d.bytes, ev.Byte)
		d.lastByte = cycle
	case ev.FramingError:
		d.errors++
	}
}

func (d *LineDecoder) Bytes() []byte { return append([]byte(nil), d.bytes...) }

// Drain returns the bytes decoded since the last Drain and forgets them.
// The receiver keeps its state, so a frame in flight is not lost.
func (d *LineDecoder) Drain() []byte {
	out := d.bytes
	d.bytes = nil
	return out
}

func (d *LineDecoder) FramingErrors() int { return d.errors }

// LastByteCycle is the edge on which the most recent byte completed.
func (d *LineDecoder) LastByteCycle() uint64 { return d.lastByte }

func (d *LineDecoder) Reset() {
	d.tick.Reset()
	d.rx.Reset()
	d.bytes = nil
	d.errors = 0
	d.lastByte = 0
}
