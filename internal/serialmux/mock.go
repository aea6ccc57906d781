package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block
// until data is added or the port is closed.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteError is returned by the next Write call if set.
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	closed      bool
	readTimeout time.Duration
	readCond    *sync.Cond
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.readBuf.Len() > 0 {
		return p.readBuf.Read(b)
	}
	return 0, errPortClosed
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	if p.ShortWrite && len(b) > 0 {
		b = b[:len(b)-1]
	}
	return p.writeBuf.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter; the value is only
// recorded.
func (p *TestableSerialPort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = d
	return nil
}

func (p *TestableSerialPort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}

// AddReadData queues bytes for the next Read, as if the host sent them.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.readCond.Signal()
}

// Written returns a copy of everything written so far.
func (p *TestableSerialPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writeBuf.Bytes()...)
}

// MockSerialPortFactory returns a fixed port (or error) and records calls.
type MockSerialPortFactory struct {
	mu sync.Mutex

	Port  SerialPorter
	Error error

	OpenCalls []MockOpenCall
}

type MockOpenCall struct {
	Path string
	Opts PortOptions
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Opts: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}
