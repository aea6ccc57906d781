// Package capture exports a core's byte-level activity as a pcap file and
// digests the RX and TX transcripts with CRC-16/MODBUS.
//
// Each packet is two bytes, an event code and the byte value, written
// with link type USER0 (147) so Wireshark shows it as raw data. The
// packet timestamp is the cycle count converted at the core clock rate.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/marcopolo/internal/timeutil"
	"github.com/banshee-data/marcopolo/internal/uart"
)

// LinkTypeUART is DLT_USER0.
const LinkTypeUART = layers.LinkType(147)

const (
	snapLen    = 16
	recordSize = 2
)

var ErrBadRecord = errors.New("capture: malformed record")

// Event codes stored in the first byte of each packet.
const (
	CodeRxByte       byte = 0x01
	CodeTxByte       byte = 0x02
	CodeFramingError byte = 0x10
	CodeTrigger      byte = 0x20
	CodeOverrun      byte = 0x21
)

var kindCodes = map[uart.EventKind]byte{
	uart.EventRxByte:       CodeRxByte,
	uart.EventTxByte:       CodeTxByte,
	uart.EventFramingError: CodeFramingError,
	uart.EventTrigger:      CodeTrigger,
	uart.EventOverrun:      CodeOverrun,
}

// Writer appends events to a pcap stream.
type Writer struct {
	w     *pcapgo.Writer
	clock timeutil.CycleClock
	count int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer, clock timeutil.CycleClock) (*Writer, error) {
	pw := pcapgo.NewWriterNanos(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeUART); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{w: pw, clock: clock}, nil
}

// WriteEvent records ev. tx_start events are skipped since the matching
// tx_byte carries the same byte once it is on the wire.
func (w *Writer) WriteEvent(ev uart.Event) error {
	code, ok := kindCodes[ev.Kind]
	if !ok {
		return nil
	}
	data := []byte{code, ev.Byte}
	ci := gopacket.CaptureInfo{
		Timestamp:     w.clock.At(ev.Cycle),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write packet for cycle %d: %w", ev.Cycle, err)
	}
	w.count++
	return nil
}

// WriteEvents records each event in order and stops at the first error.
func (w *Writer) WriteEvents(events []uart.Event) error {
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// Count is the number of packets written.
func (w *Writer) Count() int { return w.count }

// Record is one decoded packet.
type Record struct {
	Timestamp time.Time
	Code      byte
	Byte      byte
}

// Kind maps the record code back to an event kind.
func (r Record) Kind() uart.EventKind {
	for k, c := range kindCodes {
		if c == r.Code {
			return k
		}
	}
	return ""
}

// ReadAll decodes every packet of a stream written by Writer.
func ReadAll(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if pr.LinkType() != LinkTypeUART {
		return nil, fmt.Errorf("%w: link type %d", ErrBadRecord, pr.LinkType())
	}

	var out []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if len(data) != recordSize {
			return out, fmt.Errorf("%w: %d bytes", ErrBadRecord, len(data))
		}
		out = append(out, Record{Timestamp: ci.Timestamp, Code: data[0], Byte: data[1]})
	}
}
