package uart

// Match is the outcome of feeding one received byte to the Detector.
type Match struct {
	Matched   bool // history equals the trigger pattern
	Triggered bool // the reply was queued
	Overrun   bool // matched while a reply was still outstanding
}

// Detector compares the last len(pattern) received bytes against a fixed
// pattern and queues a fixed reply on a match.
type Detector struct {
	pattern []byte
	reply   []byte
	history *Ring
}

func NewDetector(pattern, reply []byte) *Detector {
	return &Detector{
		pattern: append([]byte(nil), pattern...),
		reply:   append([]byte(nil), reply...),
		history: NewRing(len(pattern)),
	}
}

// Observe pushes b into the history and checks for a match. The reply is
// appended to queue only when nothing is outstanding: queue empty and the
// transmitter idle.
func (d *Detector) Observe(b byte, queue *Ring, txBusy bool) Match {
	d.history.Push(b)
	if !d.history.Equal(d.pattern) {
		return Match{}
	}
	if !queue.Empty() || txBusy {
		return Match{Matched: true, Overrun: true}
	}
	if !queue.Append(d.reply) {
		return Match{Matched: true, Overrun: true}
	}
	return Match{Matched: true, Triggered: true}
}

// History returns the received bytes currently held, oldest first.
func (d *Detector) History() []byte { return d.history.Bytes() }

func (d *Detector) Reset() { d.history.Clear() }
