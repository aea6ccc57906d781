package uart

// TxPhase is the transmitter state.
type TxPhase uint8

const (
	TxIdle TxPhase = iota
	TxStart
	TxData
	TxStop
)

func (p TxPhase) String() string {
	switch p {
	case TxIdle:
		return "idle"
	case TxStart:
		return "start"
	case TxData:
		return "data"
	case TxStop:
		return "stop"
	default:
		return "unknown"
	}
}

// TxState is a snapshot of the transmitter registers.
type TxState struct {
	Phase    TxPhase
	BitIndex int
	Shift    byte
	Busy     bool
	Line     uint8
}

// TxEvent reports what the transmitter did on a baud tick.
type TxEvent struct {
	Started bool // Loaded was dequeued and its start bit driven
	Loaded  byte
	Sent    bool // the stop bit of Byte completed
	Byte    byte
}

// Transmitter serializes bytes from a queue, one bit per baud tick.
type Transmitter struct {
	state TxState
}

func NewTransmitter() *Transmitter {
	t := &Transmitter{}
	t.Reset()
	return t
}

// Reset forces Idle with the line at mark.
func (t *Transmitter) Reset() {
	t.state = TxState{Phase: TxIdle, Line: 1}
}

func (t *Transmitter) State() TxState { return t.state }
func (t *Transmitter) Line() uint8    { return t.state.Line }
func (t *Transmitter) Busy() bool     { return t.state.Busy }

// Step advances the transmitter on a baud tick, pulling from queue when a
// new byte is needed.
func (t *Transmitter) Step(tick bool, queue *Ring) TxEvent {
	if !tick {
		return TxEvent{}
	}

	switch t.state.Phase {
	case TxIdle:
		if t.load(queue) {
			return TxEvent{Started: true, Loaded: t.state.Shift}
		}
		return TxEvent{}

	case TxStart:
		t.state.Phase = TxData
		t.state.BitIndex = 0
		t.state.Line = t.state.Shift & 1
		return TxEvent{}

	case TxData:
		t.state.BitIndex++
		if t.state.BitIndex == 8 {
			t.state.Phase = TxStop
			t.state.Line = 1
			return TxEvent{}
		}
		t.state.Line = (t.state.Shift >> t.state.BitIndex) & 1
		return TxEvent{}

	case TxStop:
		sent := t.state.Shift
		if t.load(queue) {
			return TxEvent{Started: true, Loaded: t.state.Shift, Sent: true, Byte: sent}
		}
		t.Reset()
		return TxEvent{Sent: true, Byte: sent}
	}
	return TxEvent{}
}

func (t *Transmitter) load(queue *Ring) bool {
	b, ok := queue.Pop()
	if !ok {
		return false
	}
	t.state = TxState{
		Phase: TxStart,
		Shift: b,
		Busy:  true,
		Line:  0,
	}
	return true
}
