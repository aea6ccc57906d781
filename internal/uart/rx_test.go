package uart

import "testing"

// perTick expands frame bit slots to one level per oversample tick.
func perTick(lead int, slots []uint8, trail int) []uint8 {
	var levels []uint8
	for i := 0; i < lead; i++ {
		levels = append(levels, 1)
	}
	for _, s := range slots {
		for i := 0; i < OversampleRatio; i++ {
			levels = append(levels, s)
		}
	}
	for i := 0; i < trail; i++ {
		levels = append(levels, 1)
	}
	return levels
}

// feedTicks steps r once per level with the tick asserted.
func feedTicks(r *Receiver, levels []uint8) []RxEvent {
	var evs []RxEvent
	for _, lvl := range levels {
		if ev := r.Step(true, lvl); ev != (RxEvent{}) {
			evs = append(evs, ev)
		}
	}
	return evs
}

func TestReceiver_DecodesFrame(t *testing.T) {
	for _, window := range []int{1, 3} {
		r := NewReceiver(window)
		f := EncodeFrame('A')
		evs := feedTicks(r, perTick(3, f[:], 8))
		if len(evs) != 1 || !evs[0].Valid || evs[0].Byte != 'A' {
			t.Errorf("window %d: events = %+v, want one valid 'A'", window, evs)
		}
		if st := r.State(); st.Phase != RxIdle {
			t.Errorf("window %d: phase after frame = %v, want idle", window, st.Phase)
		}
	}
}

func TestReceiver_IgnoresCyclesWithoutTick(t *testing.T) {
	r := NewReceiver(1)
	r.Step(true, 1)
	before := r.State()
	for i := 0; i < 100; i++ {
		if ev := r.Step(false, 0); ev != (RxEvent{}) {
			t.Fatalf("event without tick: %+v", ev)
		}
	}
	if r.State() != before {
		t.Errorf("state changed without tick: %+v -> %+v", before, r.State())
	}
}

func TestReceiver_FramingErrorDiscardsAndRecovers(t *testing.T) {
	r := NewReceiver(1)
	bad := EncodeFrame('Q')
	bad[9] = 0
	good := EncodeFrame('R')

	levels := perTick(3, bad[:], 2*OversampleRatio)
	levels = append(levels, perTick(0, good[:], 8)...)
	evs := feedTicks(r, levels)

	if len(evs) != 2 {
		t.Fatalf("events = %+v, want framing error then byte", evs)
	}
	if !evs[0].FramingError {
		t.Errorf("first event = %+v, want framing error", evs[0])
	}
	if !evs[1].Valid || evs[1].Byte != 'R' {
		t.Errorf("second event = %+v, want valid 'R'", evs[1])
	}
}

func TestReceiver_FalseStart(t *testing.T) {
	r := NewReceiver(1)
	levels := []uint8{1, 1, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1}
	evs := feedTicks(r, levels)
	if len(evs) != 1 || !evs[0].FalseStart {
		t.Fatalf("events = %+v, want one false start", evs)
	}
	if r.State().Phase != RxIdle {
		t.Errorf("phase = %v, want idle", r.State().Phase)
	}

	// a real frame right after the glitch still decodes
	f := EncodeFrame(0x00)
	evs = feedTicks(r, perTick(1, f[:], 4))
	if len(evs) != 1 || !evs[0].Valid || evs[0].Byte != 0x00 {
		t.Errorf("events after glitch = %+v, want valid 0x00", evs)
	}
}

func TestReceiver_MajorityRejectsMidBitGlitch(t *testing.T) {
	f := EncodeFrame(0xFF)
	levels := perTick(3, f[:], 8)
	// Start edge at tick 3, so bit 0 is centred on tick 3+4+8 = 15.
	levels[15] = 0

	mid := feedTicks(NewReceiver(1), levels)
	if len(mid) != 1 || !mid[0].Valid || mid[0].Byte != 0xFE {
		t.Errorf("single sample: events = %+v, want corrupted 0xFE", mid)
	}

	maj := feedTicks(NewReceiver(3), levels)
	if len(maj) != 1 || !maj[0].Valid || maj[0].Byte != 0xFF {
		t.Errorf("majority: events = %+v, want 0xFF", maj)
	}
}

func TestReceiver_StartRequiresFallingEdge(t *testing.T) {
	r := NewReceiver(1)
	r.Step(true, 0) // line low straight after reset is an edge from mark
	if r.State().Phase != RxStart {
		t.Fatalf("phase = %v, want start", r.State().Phase)
	}

	r = NewReceiver(1)
	bad := EncodeFrame(0x00)
	bad[9] = 0
	feedTicks(r, perTick(1, bad[:], 0))
	// line still low after the framing error: no new frame until it returns high
	r.Step(true, 0)
	r.Step(true, 0)
	if r.State().Phase != RxIdle {
		t.Errorf("phase = %v, want idle while line stays low", r.State().Phase)
	}
}

func TestNewReceiver_RejectsWindow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for window 2")
		}
	}()
	NewReceiver(2)
}
