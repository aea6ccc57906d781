package serialmux

import (
	"io"
	"sync"

	"github.com/banshee-data/marcopolo/internal/uart"
)

// NullPort stands in for a host port when the bridge runs without
// hardware (-disable-port). Reads block until Close and writes are
// discarded, so the only input is what the admin routes inject.
type NullPort struct {
	once   sync.Once
	closed chan struct{}
}

func NewNullPort() *NullPort {
	return &NullPort{closed: make(chan struct{})}
}

func (p *NullPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.EOF
}

func (p *NullPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
		return len(b), nil
	}
}

func (p *NullPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// NewDisabledBridge returns a bridge with no host port attached.
func NewDisabledBridge(core *uart.Core) *Bridge[*NullPort] {
	return NewBridge(NewNullPort(), core)
}
