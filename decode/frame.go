// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import "fmt"

const (
	eventMarker = 0xff // first byte of an event frame

	eventSize  = 4 // marker, code, operand-high, operand-low
	headerSize = 4 // length (u16), relative clock (u16)

	// MaxPacketLength is the largest payload a packet frame may declare.
	MaxPacketLength = 0x7fff
)

// EventClockCarry is the code of events carrying a clock increment.
const EventClockCarry = 0

// Kind discriminates event frames from packet frames.
type Kind uint8

const (
	KindEvent Kind = iota + 1
	KindPacket
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindPacket:
		return "packet"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Frame is one self-delimiting record of the probe stream.
type Frame struct {
	Kind Kind

	// event fields
	Code uint8
	A    uint8 // operand, high byte
	B    uint8 // operand, low byte

	// packet fields
	Length  uint16 // payload length, pad byte excluded
	Clock   uint16 // relative clock, in 60 MHz ticks
	Payload []byte
}

// Operand returns the 16-bit operand of an event frame.
func (f Frame) Operand() uint16 {
	return uint16(f.A)<<8 | uint16(f.B)
}

// Ticks returns the clock increment carried by the frame.
// Events other than clock carries do not move the clock.
func (f Frame) Ticks() uint16 {
	switch f.Kind {
	case KindPacket:
		return f.Clock
	case KindEvent:
		if f.Code == EventClockCarry {
			return f.Operand()
		}
	}
	return 0
}

// size returns the number of stream bytes the frame occupies.
func (f Frame) size() int {
	if f.Kind == KindEvent {
		return eventSize
	}
	n := int(f.Length)
	return headerSize + n + n&1
}

func (f Frame) String() string {
	switch f.Kind {
	case KindEvent:
		return fmt.Sprintf("event %d (%d, %d)", f.Code, f.A, f.B)
	case KindPacket:
		return fmt.Sprintf("packet len=%d clk=%d", f.Length, f.Clock)
	default:
		return f.Kind.String()
	}
}
