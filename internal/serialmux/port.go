package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the minimal port surface the bridge needs. go.bug.st's
// serial.Port satisfies it, as do the in-memory ports used in tests.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports that support a read
// timeout. The bridge sets one so its reader notices shutdown.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory opens host ports by path.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}
