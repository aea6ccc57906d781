// Package serialmux bridges a host serial port to a simulated responder.
// Bytes read from the port are clocked onto the core's RX line one frame
// at a time, whatever the core transmits is decoded from its TX line and
// written back, and every core event is fanned out to subscribers as the
// edge that produced it is stepped.
//
// The core is clocked as fast as the host can step it; no attempt is made
// to hold simulated time to the wall clock.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/marcopolo/internal/bench"
	"github.com/banshee-data/marcopolo/internal/monitoring"
	"github.com/banshee-data/marcopolo/internal/uart"
	"github.com/banshee-data/marcopolo/internal/version"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("bridge closed")
	ErrReplyStuck  = errors.New("reply did not drain")
)

const (
	// subscriberBuffer is the per-subscriber channel depth. Slow lossy
	// subscribers miss events rather than stall the bridge.
	subscriberBuffer = 64
	readChunk        = 256
	readTimeout      = 200 * time.Millisecond
	resetCycles      = 5
	settleCycles     = 100
)

var logf = monitoring.Component("serialmux")

// BridgeInterface is what the command and the admin routes use.
type BridgeInterface interface {
	// Subscribe returns a channel receiving core events. Events that do
	// not fit in the channel buffer are dropped. The ID is passed to
	// Unsubscribe.
	Subscribe() (string, chan uart.Event)
	// SubscribeLossless is Subscribe for recorders: the core waits for the
	// subscriber to take each event, so it must be drained promptly.
	SubscribeLossless() (string, chan uart.Event)
	Unsubscribe(string)
	// Inject clocks data onto RX, waits for any reply to finish and
	// returns the reply bytes after writing them to the port.
	Inject([]byte) ([]byte, error)
	// Monitor feeds port input into the core until ctx is done or the
	// port is closed.
	Monitor(context.Context) error
	Status() Status
	Close() error
	// AttachAdminRoutes registers debug routes served under /debug/,
	// reachable only from localhost or the tailnet.
	AttachAdminRoutes(*http.ServeMux)
}

// Status is a snapshot of the bridge for the admin status route.
type Status struct {
	Version      string     `json:"version"`
	Cycle        uint64     `json:"cycle"`
	Stats        uart.Stats `json:"stats"`
	QueueLen     int        `json:"queue_len"`
	RxPhase      string     `json:"rx_phase"`
	TxPhase      string     `json:"tx_phase"`
	Busy         bool       `json:"busy"`
	Subscribers  int        `json:"subscribers"`
	HostBytesIn  uint64     `json:"host_bytes_in"`
	HostBytesOut uint64     `json:"host_bytes_out"`
}

type subscriber struct {
	ch       chan uart.Event
	lossless bool
	// done unblocks a lossless send before ch is closed.
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *subscriber) send(ev uart.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.lossless {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
		return
	}
	select {
	case s.ch <- ev:
	default:
		// full: drop rather than block the core
	}
}

func (s *subscriber) close() {
	close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

// Bridge connects one port to one core.
type Bridge[T SerialPorter] struct {
	port T

	coreMu   sync.Mutex
	bench    *bench.Bench
	decoder  *bench.LineDecoder
	gapBits  int
	bytesIn  uint64
	bytesOut uint64

	subscribers  map[string]*subscriber
	subscriberMu sync.Mutex

	writeMu sync.Mutex

	closing   bool
	closingMu sync.Mutex
}

// NewBridge takes ownership of port and core. The core is reset and left
// idle before the bridge returns.
func NewBridge[T SerialPorter](port T, core *uart.Core) *Bridge[T] {
	cfg := core.Config()
	b := &Bridge[T]{
		port:        port,
		bench:       bench.New(core),
		decoder:     bench.NewLineDecoder(cfg.Baud, cfg.SampleWindow),
		subscribers: make(map[string]*subscriber),
	}
	b.bench.Observe(b.decoder.Observer())
	b.bench.Observe(func(cycle uint64, _ uart.Inputs, out uart.Outputs) {
		b.broadcast(uart.Events(cycle, out))
	})

	b.bench.SetRX(1)
	b.bench.Reset(resetCycles)
	b.bench.Run(settleCycles)
	return b
}

// SetGapBits sets the idle bit periods clocked after each injected byte.
func (b *Bridge[T]) SetGapBits(n int) {
	b.coreMu.Lock()
	defer b.coreMu.Unlock()
	if n < 0 {
		n = 0
	}
	b.gapBits = n
}

// randomID generates an 8 byte hex subscriber ID.
func randomID() string {
	id := make([]byte, 8)
	crand.Read(id)
	return hex.EncodeToString(id)
}

func (b *Bridge[T]) Subscribe() (string, chan uart.Event) {
	return b.subscribe(false)
}

func (b *Bridge[T]) SubscribeLossless() (string, chan uart.Event) {
	return b.subscribe(true)
}

func (b *Bridge[T]) subscribe(lossless bool) (string, chan uart.Event) {
	id := randomID()
	sub := &subscriber{
		ch:       make(chan uart.Event, subscriberBuffer),
		lossless: lossless,
		done:     make(chan struct{}),
	}

	// Close sets closing before it takes subscriberMu, so checking under
	// subscriberMu cannot miss it.
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if b.isClosing() {
		sub.close()
		return id, sub.ch
	}
	b.subscribers[id] = sub
	return id, sub.ch
}

func (b *Bridge[T]) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.subscriberMu.Unlock()
	if ok {
		sub.close()
	}
}

// broadcast runs on every stepped edge, under coreMu.
func (b *Bridge[T]) broadcast(events []uart.Event) {
	if len(events) == 0 {
		return
	}
	b.subscriberMu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscriberMu.Unlock()

	for _, sub := range subs {
		for _, ev := range events {
			sub.send(ev)
		}
	}
}

func (b *Bridge[T]) isClosing() bool {
	b.closingMu.Lock()
	defer b.closingMu.Unlock()
	return b.closing
}

// clock drives data through the core and returns the decoded reply.
// Events reach subscribers while it steps. Callers hold coreMu.
func (b *Bridge[T]) clock(data []byte) ([]byte, error) {
	cfg := b.bench.Core().Config()
	bitCycles := cfg.Baud.BitCycles()

	b.bench.Send(data, bitCycles, b.gapBits)

	// a reply can take at most the whole queue plus the frame on the wire
	limit := (len(cfg.Reply) + 2) * uart.FrameBits * bitCycles
	core := b.bench.Core()
	var err error
	if core.Outputs().Busy || core.QueueLen() > 0 {
		_, err = b.bench.WaitFor(func(o uart.Outputs) bool {
			return !o.Busy && core.QueueLen() == 0
		}, limit)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrReplyStuck, err)
		}
	}

	reply := b.decoder.Drain()
	b.bytesIn += uint64(len(data))
	return reply, err
}

// Inject clocks data through the core as if it arrived on the port.
func (b *Bridge[T]) Inject(data []byte) ([]byte, error) {
	if b.isClosing() {
		return nil, ErrClosed
	}
	if len(data) == 0 {
		return nil, nil
	}

	b.coreMu.Lock()
	reply, err := b.clock(data)
	b.coreMu.Unlock()

	if err != nil {
		return reply, err
	}
	if len(reply) > 0 {
		if werr := b.write(reply); werr != nil {
			return reply, werr
		}
	}
	return reply, nil
}

func (b *Bridge[T]) write(p []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	n, err := b.port.Write(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: short write %d/%d", ErrWriteFailed, n, len(p))
	}
	b.coreMu.Lock()
	b.bytesOut += uint64(n)
	b.coreMu.Unlock()
	return nil
}

// Monitor reads from the port and injects every chunk until ctx is done,
// the port reports EOF, or Close is called.
func (b *Bridge[T]) Monitor(ctx context.Context) error {
	if tp, ok := any(b.port).(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(readTimeout); err != nil {
			logf("could not set read timeout: %v", err)
		}
	}

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	stopped := make(chan struct{})
	defer close(stopped)

	// the blocking Read stays out of the select loop below
	go b.readLoop(ctx, stopped, chunks, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if b.isClosing() {
				return nil
			}
			return err

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					if !b.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if b.isClosing() {
				return nil
			}
			reply, err := b.Inject(chunk)
			if err != nil {
				logf("inject %q: %v", chunk, err)
				if errors.Is(err, ErrWriteFailed) {
					return err
				}
				continue
			}
			if len(reply) > 0 {
				logf("replied %q to %q", reply, chunk)
			}
		}
	}
}

// readLoop copies port reads into chunks until the port fails, ctx is done
// or stopped is closed. It closes chunks on return.
func (b *Bridge[T]) readLoop(ctx context.Context, stopped <-chan struct{}, chunks chan<- []byte, readErr chan<- error) {
	defer close(chunks)
	buf := make([]byte, readChunk)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			case <-stopped:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr <- err
			}
			return
		}
		if ctx.Err() != nil || b.isClosing() {
			return
		}
	}
}

// Status snapshots the core and the bridge counters.
func (b *Bridge[T]) Status() Status {
	b.coreMu.Lock()
	core := b.bench.Core()
	st := Status{
		Version:      version.Version,
		Cycle:        b.bench.Cycle(),
		Stats:        core.Stats(),
		QueueLen:     core.QueueLen(),
		RxPhase:      core.RxState().Phase.String(),
		TxPhase:      core.TxState().Phase.String(),
		Busy:         core.Outputs().Busy,
		HostBytesIn:  b.bytesIn,
		HostBytesOut: b.bytesOut,
	}
	b.coreMu.Unlock()

	b.subscriberMu.Lock()
	st.Subscribers = len(b.subscribers)
	b.subscriberMu.Unlock()
	return st
}

// Close closes every subscriber channel and then the port. It is safe to
// call more than once.
func (b *Bridge[T]) Close() error {
	b.closingMu.Lock()
	if b.closing {
		b.closingMu.Unlock()
		return nil
	}
	b.closing = true
	b.closingMu.Unlock()

	b.subscriberMu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*subscriber)
	b.subscriberMu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
	return b.port.Close()
}
