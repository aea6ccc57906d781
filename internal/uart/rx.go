package uart

// RxPhase is the receiver state.
type RxPhase uint8

const (
	RxIdle RxPhase = iota
	RxStart
	RxData
	RxStop
)

func (p RxPhase) String() string {
	switch p {
	case RxIdle:
		return "idle"
	case RxStart:
		return "start"
	case RxData:
		return "data"
	case RxStop:
		return "stop"
	default:
		return "unknown"
	}
}

// RxState is a snapshot of the receiver registers.
type RxState struct {
	Phase    RxPhase
	BitIndex int   // valid in RxData, 0..7
	Count    int   // oversample ticks since the last sample point
	Shift    byte  // data bits assembled so far, LSB first
	Sampled  uint8 // most recent decided bit
}

// RxEvent is the result of one oversample tick. At most one flag is set.
type RxEvent struct {
	Valid        bool
	Byte         byte
	FramingError bool
	FalseStart   bool
}

// Receiver deserializes 8-N-1 frames from a line sampled on oversample
// ticks. With a window of 1 it samples exactly at mid-bit; with a window of
// 3 it takes a majority over the ticks either side of mid-bit and decides
// one tick later.
type Receiver struct {
	state    RxState
	window   int
	lag      int
	votes    int
	prevLine uint8
}

// NewReceiver builds a receiver. window must be 1 or 3.
func NewReceiver(window int) *Receiver {
	if window != 1 && window != 3 {
		panic("uart: receiver window must be 1 or 3")
	}
	r := &Receiver{window: window, lag: (window - 1) / 2}
	r.Reset()
	return r
}

// Reset returns the receiver to Idle with the line assumed at mark.
func (r *Receiver) Reset() {
	r.state = RxState{Phase: RxIdle, Sampled: 1}
	r.votes = 0
	r.prevLine = 1
}

func (r *Receiver) State() RxState { return r.state }

// Step advances the receiver. Nothing changes on cycles without an
// oversample tick.
func (r *Receiver) Step(tick bool, line uint8) RxEvent {
	if !tick {
		return RxEvent{}
	}
	line &= 1

	switch r.state.Phase {
	case RxIdle:
		if r.prevLine == 1 && line == 0 {
			r.state.Phase = RxStart
			r.state.Count = 0
			r.votes = 0
		}
		r.prevLine = line
		return RxEvent{}

	case RxStart:
		bit, ok := r.sample(line, OversampleRatio/2)
		if !ok {
			return RxEvent{}
		}
		if bit != 0 {
			r.toIdle(line)
			return RxEvent{FalseStart: true}
		}
		r.state.Phase = RxData
		r.state.BitIndex = 0
		r.state.Shift = 0
		return RxEvent{}

	case RxData:
		bit, ok := r.sample(line, OversampleRatio)
		if !ok {
			return RxEvent{}
		}
		r.state.Shift |= bit << r.state.BitIndex
		r.state.BitIndex++
		if r.state.BitIndex == 8 {
			r.state.Phase = RxStop
		}
		return RxEvent{}

	case RxStop:
		bit, ok := r.sample(line, OversampleRatio)
		if !ok {
			return RxEvent{}
		}
		b := r.state.Shift
		r.toIdle(line)
		if bit == 0 {
			return RxEvent{FramingError: true}
		}
		return RxEvent{Valid: true, Byte: b}
	}
	return RxEvent{}
}

// sample counts one tick towards target and collects votes inside the
// window. It reports the decided bit once the window closes.
func (r *Receiver) sample(line uint8, target int) (uint8, bool) {
	r.state.Count++
	if r.state.Count >= target-r.lag {
		r.votes += int(line)
	}
	if r.state.Count < target+r.lag {
		return 0, false
	}
	var bit uint8
	if 2*r.votes > r.window {
		bit = 1
	}
	r.state.Sampled = bit
	r.state.Count = r.lag
	r.votes = 0
	return bit, true
}

func (r *Receiver) toIdle(line uint8) {
	r.state.Phase = RxIdle
	r.state.BitIndex = 0
	r.state.Count = 0
	r.votes = 0
	r.prevLine = line
}
