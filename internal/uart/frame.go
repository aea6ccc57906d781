package uart

import (
	"errors"
	"fmt"
)

// FrameBits is the number of bit slots in an 8-N-1 frame.
const FrameBits = 10

var (
	ErrFrameStart = errors.New("uart: start bit is not 0")
	ErrFrameStop  = errors.New("uart: stop bit is not 1")
)

// Frame is the serial encoding of one byte: start, bit0..bit7, stop.
type Frame [FrameBits]uint8

// EncodeFrame returns the line levels for b, LSB first.
func EncodeFrame(b byte) Frame {
	var f Frame
	f[0] = 0
	for i := 0; i < 8; i++ {
		f[i+1] = (b >> i) & 1
	}
	f[9] = 1
	return f
}

// Byte reassembles the data bits regardless of framing.
func (f Frame) Byte() byte {
	var b byte
	for i := 0; i < 8; i++ {
		b |= (f[i+1] & 1) << i
	}
	return b
}

// Decode checks the start and stop slots and returns the data byte.
func (f Frame) Decode() (byte, error) {
	if f[0] != 0 {
		return 0, ErrFrameStart
	}
	if f[9] != 1 {
		return f.Byte(), ErrFrameStop
	}
	return f.Byte(), nil
}

// DecodeBits decodes a stream of sampled bit slots, 10 per frame, skipping
// frames with bad start or stop bits. Trailing partial frames are ignored.
func DecodeBits(bits []uint8) ([]byte, error) {
	var out []byte
	var errs []error
	for i := 0; i+FrameBits <= len(bits); i += FrameBits {
		var f Frame
		copy(f[:], bits[i:i+FrameBits])
		b, err := f.Decode()
		if err != nil {
			errs = append(errs, fmt.Errorf("frame %d: %w", i/FrameBits, err))
			continue
		}
		out = append(out, b)
	}
	return out, errors.Join(errs...)
}
