package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/marcopolo/internal/serialmux"
	"github.com/banshee-data/marcopolo/internal/uart"
)

// DefaultConfigPath is the path to the canonical UART defaults file.
const DefaultConfigPath = "config/uart.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// UARTConfig is the on-disk form of a responder configuration. Omitted
// fields fall back to the built-in defaults through the Get* methods, so
// a partial file only needs the values it changes.
type UARTConfig struct {
	ClockHz           *int    `json:"clock_hz,omitempty"`
	OversampleDivisor *int    `json:"oversample_divisor,omitempty"`
	OversampleRatio   *int    `json:"oversample_ratio,omitempty"` // must be 8 if present
	Trigger           *string `json:"trigger,omitempty"`
	Reply             *string `json:"reply,omitempty"`
	SampleWindow      *int    `json:"sample_window,omitempty"`

	// Serial describes the host port used by the bridge. It has no effect
	// on the simulated core.
	Serial *serialmux.PortOptions `json:"serial,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// DefaultUARTConfig returns a config with every field populated from the
// package defaults in internal/uart.
func DefaultUARTConfig() *UARTConfig {
	return &UARTConfig{
		ClockHz:           ptrInt(uart.DefaultClockHz),
		OversampleDivisor: ptrInt(uart.DefaultOversampleDivisor),
		OversampleRatio:   ptrInt(uart.OversampleRatio),
		Trigger:           ptrString(string(uart.DefaultTrigger)),
		Reply:             ptrString(string(uart.DefaultReply)),
		SampleWindow:      ptrInt(1),
		Serial:            &serialmux.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
	}
}

// LoadUARTConfig reads a UARTConfig from a JSON file. The path must have a
// .json extension and the file must be under 1MB.
func LoadUARTConfig(path string) (*UARTConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &UARTConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics if the file cannot be found and is meant
// for tests and command defaults.
func MustLoadDefaultConfig() *UARTConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadUARTConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the fields that are set. Cross-field rules are left to
// uart.Config.Validate via ToCoreConfig.
func (c *UARTConfig) Validate() error {
	if c.ClockHz != nil && *c.ClockHz <= 0 {
		return fmt.Errorf("clock_hz must be positive, got %d", *c.ClockHz)
	}
	if c.OversampleDivisor != nil && *c.OversampleDivisor <= 0 {
		return fmt.Errorf("%w: oversample_divisor %d", uart.ErrInvalidDivisor, *c.OversampleDivisor)
	}
	if c.OversampleRatio != nil && *c.OversampleRatio != uart.OversampleRatio {
		return fmt.Errorf("oversample_ratio is fixed at %d, got %d", uart.OversampleRatio, *c.OversampleRatio)
	}
	if c.Trigger != nil && *c.Trigger == "" {
		return fmt.Errorf("trigger: %w", uart.ErrEmptyPattern)
	}
	if c.Reply != nil && *c.Reply == "" {
		return fmt.Errorf("reply: %w", uart.ErrEmptyPattern)
	}
	if c.SampleWindow != nil && *c.SampleWindow != 1 && *c.SampleWindow != 3 {
		return fmt.Errorf("%w: got %d", uart.ErrInvalidSampleWindow, *c.SampleWindow)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

// GetClockHz returns clock_hz or the 50 MHz default.
func (c *UARTConfig) GetClockHz() int {
	if c.ClockHz == nil {
		return uart.DefaultClockHz
	}
	return *c.ClockHz
}

// GetOversampleDivisor returns oversample_divisor or 651.
func (c *UARTConfig) GetOversampleDivisor() int {
	if c.OversampleDivisor == nil {
		return uart.DefaultOversampleDivisor
	}
	return *c.OversampleDivisor
}

func (c *UARTConfig) GetTrigger() []byte {
	if c.Trigger == nil {
		return append([]byte(nil), uart.DefaultTrigger...)
	}
	return []byte(*c.Trigger)
}

func (c *UARTConfig) GetReply() []byte {
	if c.Reply == nil {
		return append([]byte(nil), uart.DefaultReply...)
	}
	return []byte(*c.Reply)
}

// GetSampleWindow returns sample_window or 1 (single mid-bit sample).
func (c *UARTConfig) GetSampleWindow() int {
	if c.SampleWindow == nil {
		return 1
	}
	return *c.SampleWindow
}

// GetSerial returns the normalised port options. When serial is absent the
// host port runs at the nominal simulated baud rate.
func (c *UARTConfig) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if opts.BaudRate == 0 {
		bc, err := uart.NewBaudConfig(c.GetOversampleDivisor())
		if err == nil {
			opts.BaudRate = int(bc.BaudRate(c.GetClockHz()) + 0.5)
		}
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// ToCoreConfig builds the uart.Config for a Core.
func (c *UARTConfig) ToCoreConfig() (uart.Config, error) {
	if err := c.Validate(); err != nil {
		return uart.Config{}, err
	}
	baud, err := uart.NewBaudConfig(c.GetOversampleDivisor())
	if err != nil {
		return uart.Config{}, err
	}
	cfg := uart.Config{
		Baud:         baud,
		Trigger:      c.GetTrigger(),
		Reply:        c.GetReply(),
		SampleWindow: c.GetSampleWindow(),
	}
	if err := cfg.Validate(); err != nil {
		return uart.Config{}, err
	}
	return cfg, nil
}
