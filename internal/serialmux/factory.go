package serialmux

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/marcopolo/internal/uart"
)

// RealPortFactory opens ports with go.bug.st/serial.
type RealPortFactory struct{}

func (RealPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// NewBridgeFromFactory opens path through factory and wraps it in a
// Bridge around core.
func NewBridgeFromFactory(factory SerialPortFactory, path string, opts PortOptions, core *uart.Core) (*Bridge[SerialPorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewBridge(port, core), nil
}

// NewRealBridge opens a host serial port and bridges it to core.
func NewRealBridge(path string, opts PortOptions, core *uart.Core) (*Bridge[SerialPorter], error) {
	return NewBridgeFromFactory(RealPortFactory{}, path, opts, core)
}
