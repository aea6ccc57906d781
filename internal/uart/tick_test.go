package uart

import "testing"

func TestTickGenerator_Periodic(t *testing.T) {
	for _, divisor := range []int{1, 2, 7, DefaultOversampleDivisor, DefaultBaudDivisor} {
		g := NewTickGenerator(divisor)
		var pulses []int
		for cycle := 1; cycle <= divisor*10; cycle++ {
			if g.Tick() {
				pulses = append(pulses, cycle)
			}
		}
		if len(pulses) != 10 {
			t.Fatalf("divisor %d: got %d pulses in %d cycles, want 10", divisor, len(pulses), divisor*10)
		}
		if pulses[0] != divisor {
			t.Errorf("divisor %d: first pulse on cycle %d, want %d", divisor, pulses[0], divisor)
		}
		for i := 1; i < len(pulses); i++ {
			if gap := pulses[i] - pulses[i-1]; gap != divisor {
				t.Errorf("divisor %d: gap %d between pulses %d and %d", divisor, gap, i-1, i)
			}
		}
	}
}

func TestTickGenerator_ResetRealigns(t *testing.T) {
	g := NewTickGenerator(5)
	for i := 0; i < 3; i++ {
		g.Tick()
	}
	if g.Count() != 3 {
		t.Fatalf("count = %d, want 3", g.Count())
	}
	g.Reset()
	for i := 1; i < 5; i++ {
		if g.Tick() {
			t.Fatalf("pulse %d cycles after reset, want 5", i)
		}
	}
	if !g.Tick() {
		t.Fatal("no pulse 5 cycles after reset")
	}
}

func TestNewTickGenerator_PanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero divisor")
		}
	}()
	NewTickGenerator(0)
}
