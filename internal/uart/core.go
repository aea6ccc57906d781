package uart

// Status word bit positions.
const (
	BitTX = iota
	BitOversampleTick
	BitBaudTick
	BitTrigger
	BitBusy
	BitRxValid
	BitFramingError
)

// Inputs are the boundary signals sampled on a clock edge.
type Inputs struct {
	ResetN bool  // active low
	Enable bool  // low freezes every register for the edge
	RX     uint8 // idle high
}

// Idle returns inputs for normal operation with the RX line at mark.
func Idle() Inputs { return Inputs{ResetN: true, Enable: true, RX: 1} }

// Outputs are the boundary signals after a clock edge. Pulses are high
// for exactly the edge on which they happened.
type Outputs struct {
	TX             uint8
	OversampleTick bool
	BaudTick       bool
	Trigger        bool
	Busy           bool
	RxValid        bool
	FramingError   bool
	RxByte         byte

	// Diagnostics that have no pin on the status word.
	TxEvent TxEvent
	Overrun bool
}

// Word packs the outputs into the status byte.
func (o Outputs) Word() uint8 {
	w := o.TX & 1
	set := func(bit int, v bool) {
		if v {
			w |= 1 << bit
		}
	}
	set(BitOversampleTick, o.OversampleTick)
	set(BitBaudTick, o.BaudTick)
	set(BitTrigger, o.Trigger)
	set(BitBusy, o.Busy)
	set(BitRxValid, o.RxValid)
	set(BitFramingError, o.FramingError)
	return w
}

// DecodeWord unpacks a status byte and the byte side channel.
func DecodeWord(word uint8, rxByte byte) Outputs {
	has := func(bit int) bool { return word&(1<<bit) != 0 }
	return Outputs{
		TX:             word & 1,
		OversampleTick: has(BitOversampleTick),
		BaudTick:       has(BitBaudTick),
		Trigger:        has(BitTrigger),
		Busy:           has(BitBusy),
		RxValid:        has(BitRxValid),
		FramingError:   has(BitFramingError),
		RxByte:         rxByte,
	}
}

// Stats counts activity since the last reset.
type Stats struct {
	Cycles        uint64 `json:"cycles"`
	BytesReceived uint64 `json:"bytes_received"`
	FramingErrors uint64 `json:"framing_errors"`
	FalseStarts   uint64 `json:"false_starts"`
	Triggers      uint64 `json:"triggers"`
	Overruns      uint64 `json:"overruns"`
	BytesSent     uint64 `json:"bytes_sent"`
}

// Core wires the tick generators, receiver, detector and transmitter
// into one synchronous design. It is not safe for concurrent use.
type Core struct {
	cfg      Config
	rxTick   *TickGenerator
	txTick   *TickGenerator
	rx       *Receiver
	tx       *Transmitter
	detector *Detector
	queue    *Ring
	out      Outputs
	rxByte   byte
	stats    Stats
}

// New builds a Core in its reset state.
func New(cfg Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Core{
		cfg:      cfg,
		rxTick:   NewTickGenerator(cfg.Baud.OversampleDivisor()),
		txTick:   NewTickGenerator(cfg.Baud.BaudDivisor()),
		rx:       NewReceiver(cfg.SampleWindow),
		tx:       NewTransmitter(),
		detector: NewDetector(cfg.Trigger, cfg.Reply),
		queue:    NewRing(len(cfg.Reply)),
	}
	c.Reset()
	return c, nil
}

// Reset forces every machine to Idle and clears the queue and history.
func (c *Core) Reset() {
	c.rxTick.Reset()
	c.txTick.Reset()
	c.rx.Reset()
	c.tx.Reset()
	c.detector.Reset()
	c.queue.Clear()
	c.rxByte = 0
	c.stats = Stats{}
	c.out = Outputs{TX: 1}
}

// Step evaluates one rising clock edge. Within the edge the tick
// generators run first, then the receiver, then the detector on any byte
// the receiver just produced, then the transmitter, which therefore sees a
// reply queued on the same edge.
func (c *Core) Step(in Inputs) Outputs {
	if !in.ResetN {
		c.Reset()
		return c.out
	}
	if !in.Enable {
		c.out = Outputs{TX: c.tx.Line(), Busy: c.tx.Busy(), RxByte: c.rxByte}
		return c.out
	}

	c.stats.Cycles++
	osTick := c.rxTick.Tick()
	baudTick := c.txTick.Tick()

	out := Outputs{OversampleTick: osTick, BaudTick: baudTick}

	ev := c.rx.Step(osTick, in.RX)
	switch {
	case ev.Valid:
		c.stats.BytesReceived++
		c.rxByte = ev.Byte
		out.RxValid = true
		m := c.detector.Observe(ev.Byte, c.queue, c.tx.Busy())
		if m.Triggered {
			c.stats.Triggers++
			out.Trigger = true
		}
		if m.Overrun {
			c.stats.Overruns++
			out.Overrun = true
		}
	case ev.FramingError:
		c.stats.FramingErrors++
		out.FramingError = true
	case ev.FalseStart:
		c.stats.FalseStarts++
	}

	txEv := c.tx.Step(baudTick, c.queue)
	if txEv.Sent {
		c.stats.BytesSent++
	}
	out.TxEvent = txEv
	out.TX = c.tx.Line()
	out.Busy = c.tx.Busy()
	out.RxByte = c.rxByte

	c.out = out
	return out
}

// Outputs returns the outputs of the most recent edge.
func (c *Core) Outputs() Outputs { return c.out }

func (c *Core) Config() Config { return c.cfg }
func (c *Core) Stats() Stats   { return c.stats }

// QueueLen is the number of reply bytes not yet loaded into the transmitter.
func (c *Core) QueueLen() int { return c.queue.Len() }

// History returns the detector's view of the most recent received bytes.
func (c *Core) History() []byte { return c.detector.History() }

func (c *Core) RxState() RxState { return c.rx.State() }
func (c *Core) TxState() TxState { return c.tx.State() }
