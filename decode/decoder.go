// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decode parses the framed byte stream produced by a Cynthion
// USB analyzer and converts it into pcap records.
//
// The stream is a sequence of frames:
//
//	event:  0xff, code:u8, operand-high:u8, operand-low:u8
//	packet: length:u16, clock:u16, payload[length], pad:u8 if length is odd
//
// All 16-bit fields are big-endian. Frames may be split at any byte
// boundary by the transport; the Decoder reassembles them.
package decode // import "github.com/go-lpc/usbcap/decode"

import (
	"encoding/binary"
	"errors"
	"iter"

	"golang.org/x/xerrors"
)

// ErrFraming is returned when the stream declares a packet length
// that can not be valid. The stream is considered corrupted.
var ErrFraming = errors.New("decode: framing error")

// Decoder incrementally extracts frames out of bytes pushed with Feed.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
	pos int   // offset of the first unconsumed byte in buf
	off int64 // stream offset of buf[pos]
	err error

	closed bool
}

// NewDecoder returns a new, empty, Decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		buf: make([]byte, 0, 2*(headerSize+MaxPacketLength+1)),
	}
}

// Feed appends p to the decode buffer.
//
// Payload slices of frames previously yielded by Frames are only valid
// until the next call to Feed.
func (dec *Decoder) Feed(p []byte) {
	if dec.closed {
		return
	}
	if dec.pos > 0 {
		n := copy(dec.buf, dec.buf[dec.pos:])
		dec.buf = dec.buf[:n]
		dec.pos = 0
	}
	dec.buf = append(dec.buf, p...)
}

// Frames returns the sequence of frames that can be fully extracted from
// the bytes buffered so far. An incomplete trailing frame stays buffered
// until more bytes are fed. Iteration may be stopped and resumed with a
// new call to Frames; no frame is yielded twice.
//
// Iteration stops at the first framing error, reported by Err.
func (dec *Decoder) Frames() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for dec.err == nil {
			f, ok := dec.next()
			if !ok {
				return
			}
			n := f.size()
			dec.pos += n
			dec.off += int64(n)
			if !yield(f) {
				return
			}
		}
	}
}

// Err returns the framing error that stopped decoding, if any.
func (dec *Decoder) Err() error {
	return dec.err
}

// Buffered returns the number of bytes fed but not yet consumed.
func (dec *Decoder) Buffered() int {
	return len(dec.buf) - dec.pos
}

// Offset returns the stream offset of the first unconsumed byte.
func (dec *Decoder) Offset() int64 {
	return dec.off
}

// Close signals the end of input and returns the number of bytes
// left over, i.e. bytes that do not form a complete frame.
// Further calls to Feed are ignored.
func (dec *Decoder) Close() int {
	dec.closed = true
	return dec.Buffered()
}

func (dec *Decoder) next() (Frame, bool) {
	p := dec.buf[dec.pos:]
	if len(p) < headerSize {
		return Frame{}, false
	}

	if p[0] == eventMarker {
		return Frame{
			Kind: KindEvent,
			Code: p[1],
			A:    p[2],
			B:    p[3],
		}, true
	}

	n := binary.BigEndian.Uint16(p[0:2])
	if n > MaxPacketLength {
		dec.err = xerrors.Errorf(
			"decode: invalid packet length 0x%04x at offset %d: %w",
			n, dec.off, ErrFraming,
		)
		return Frame{}, false
	}

	f := Frame{
		Kind:   KindPacket,
		Length: n,
		Clock:  binary.BigEndian.Uint16(p[2:4]),
	}
	if len(p) < f.size() {
		return Frame{}, false
	}
	beg := headerSize
	end := beg + int(n)
	f.Payload = p[beg:end:end]
	return f, true
}
