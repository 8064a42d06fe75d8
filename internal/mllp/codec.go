// Package mllp implements the minimal lower layer protocol framing used to
// carry HL7 messages over a byte stream:
//
//	<VT> message <FS><CR>
package mllp

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	StartBlock     byte = 0x0B
	EndBlock       byte = 0x1C
	CarriageReturn byte = 0x0D
)

// DefaultMaxFrameSize bounds the bytes buffered for a single frame.
const DefaultMaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("mllp: frame too large")

var terminator = []byte{EndBlock, CarriageReturn}

// Encode wraps payload in the start block and the two byte terminator.
func Encode(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, payload...)
	return append(frame, terminator...)
}

// Decoder accumulates stream bytes for one connection and extracts complete
// frames. It is not safe for concurrent use.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a Decoder that fails once more than maxFrameSize bytes
// are pending without a terminator. Zero or less selects DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{max: maxFrameSize}
}

// Feed appends data to the pending buffer and returns the payload of every
// frame completed by it, in arrival order. Payloads never include envelope
// bytes. After ErrFrameTooLarge the Decoder has been reset and the stream
// should be abandoned.
func (d *Decoder) Feed(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)

	var frames [][]byte
	start := 0
	for {
		end := bytes.Index(d.buf[start:], terminator)
		if end < 0 {
			break
		}
		if end > d.max {
			d.Reset()
			return frames, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, end, d.max)
		}

		frames = append(frames, payload(d.buf[start:start+end]))
		start += end + len(terminator)
	}

	// Compact so the retained prefix doesn't keep already delivered frames alive.
	remaining := len(d.buf) - start
	if remaining == 0 {
		d.buf = d.buf[:0]
	} else if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}

	// A trailing FS may be the first half of a terminator split across reads.
	limit := d.max
	if n := len(d.buf); n > 0 && d.buf[n-1] == EndBlock {
		limit++
	}
	if len(d.buf) > limit {
		size := len(d.buf)
		d.Reset()
		return frames, fmt.Errorf("%w: %d bytes pending exceeds limit of %d", ErrFrameTooLarge, size, d.max)
	}
	return frames, nil
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (d *Decoder) Pending() int { return len(d.buf) }

// Reset discards any partially received frame.
func (d *Decoder) Reset() { d.buf = nil }

// payload strips the envelope from a frame region. Whitespace between frames
// is skipped up to the start block; otherwise the first byte is dropped
// unconditionally.
func payload(region []byte) []byte {
	var body []byte
	if trimmed := bytes.TrimLeft(region, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == StartBlock {
		body = trimmed[1:]
	} else if len(region) > 0 {
		body = region[1:]
	}

	out := make([]byte, len(body))
	copy(out, body)
	return out
}
