// Package uart is a cycle-accurate model of an 8-N-1 UART with a
// pattern-triggered responder. Every component advances once per call to
// Step, which stands for one rising edge of the system clock.
package uart

import (
	"errors"
	"fmt"
)

// OversampleRatio is the number of RX oversample ticks per bit period.
const OversampleRatio = 8

const (
	// DefaultClockHz is the system clock the default divisors are derived for.
	DefaultClockHz = 50_000_000
	// DefaultOversampleDivisor gives 8x oversampling of 9600 baud at 50 MHz.
	DefaultOversampleDivisor = 651
	// DefaultBaudDivisor is DefaultOversampleDivisor * OversampleRatio.
	DefaultBaudDivisor = DefaultOversampleDivisor * OversampleRatio
)

// Default trigger and reply patterns.
var (
	DefaultTrigger = []byte("MARCO")
	DefaultReply   = []byte("\n\rPOLO!\n\r")
)

var (
	ErrInvalidDivisor      = errors.New("uart: divisor must be positive")
	ErrDivisorRatio        = errors.New("uart: baud divisor must equal oversample divisor * 8")
	ErrEmptyPattern        = errors.New("uart: trigger and reply patterns must be non-empty")
	ErrInvalidSampleWindow = errors.New("uart: sample window must be 1 or 3")
)

// BaudConfig holds the two tick divisors. It is immutable once built.
type BaudConfig struct {
	oversampleDivisor int
	baudDivisor       int
}

// NewBaudConfig derives the baud divisor from the oversample divisor.
func NewBaudConfig(oversampleDivisor int) (BaudConfig, error) {
	if oversampleDivisor <= 0 {
		return BaudConfig{}, fmt.Errorf("%w: oversample divisor %d", ErrInvalidDivisor, oversampleDivisor)
	}
	return BaudConfig{
		oversampleDivisor: oversampleDivisor,
		baudDivisor:       oversampleDivisor * OversampleRatio,
	}, nil
}

// NewBaudConfigPair validates an explicit divisor pair.
func NewBaudConfigPair(oversampleDivisor, baudDivisor int) (BaudConfig, error) {
	bc, err := NewBaudConfig(oversampleDivisor)
	if err != nil {
		return BaudConfig{}, err
	}
	if baudDivisor != bc.baudDivisor {
		return BaudConfig{}, fmt.Errorf("%w: got %d/%d", ErrDivisorRatio, oversampleDivisor, baudDivisor)
	}
	return bc, nil
}

// DefaultBaudConfig returns the 651/5208 pair.
func DefaultBaudConfig() BaudConfig {
	return BaudConfig{
		oversampleDivisor: DefaultOversampleDivisor,
		baudDivisor:       DefaultBaudDivisor,
	}
}

func (b BaudConfig) OversampleDivisor() int { return b.oversampleDivisor }
func (b BaudConfig) BaudDivisor() int       { return b.baudDivisor }

// BitCycles is the number of clock cycles in one bit period.
func (b BaudConfig) BitCycles() int { return b.baudDivisor }

// BaudRate returns the nominal bit rate for the given clock.
func (b BaudConfig) BaudRate(clockHz int) float64 {
	if b.baudDivisor == 0 {
		return 0
	}
	return float64(clockHz) / float64(b.baudDivisor)
}

// Config is the full set of construction-time parameters for a Core.
type Config struct {
	Baud    BaudConfig
	Trigger []byte
	Reply   []byte
	// SampleWindow is 1 for a single mid-bit sample or 3 for a
	// majority vote over the ticks either side of mid-bit.
	SampleWindow int
}

// DefaultConfig returns the MARCO/POLO responder at 9600 baud from 50 MHz.
func DefaultConfig() Config {
	return Config{
		Baud:         DefaultBaudConfig(),
		Trigger:      append([]byte(nil), DefaultTrigger...),
		Reply:        append([]byte(nil), DefaultReply...),
		SampleWindow: 1,
	}
}

// Validate reports whether the configuration can build a Core.
func (c Config) Validate() error {
	if c.Baud.oversampleDivisor <= 0 {
		return ErrInvalidDivisor
	}
	if c.Baud.baudDivisor != c.Baud.oversampleDivisor*OversampleRatio {
		return ErrDivisorRatio
	}
	if len(c.Trigger) == 0 || len(c.Reply) == 0 {
		return ErrEmptyPattern
	}
	if c.SampleWindow != 1 && c.SampleWindow != 3 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleWindow, c.SampleWindow)
	}
	return nil
}
