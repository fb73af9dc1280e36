// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

// ClockRate is the frequency of the probe clock, in Hz.
const ClockRate = 60000000

// Clock rebuilds the absolute probe time from per-frame relative clock
// values and clock-carry events.
//
// The accumulator is 64 bits wide: at 60 MHz it overflows the nanosecond
// conversion after roughly 95 years of capture.
type Clock struct {
	ticks uint64
}

// Advance adds v ticks to the clock.
func (clk *Clock) Advance(v uint16) {
	clk.ticks += uint64(v)
}

// Ticks returns the accumulated number of 60 MHz ticks.
func (clk *Clock) Ticks() uint64 {
	return clk.ticks
}

// Nanoseconds converts the accumulated ticks to nanoseconds,
// truncating toward zero.
func (clk *Clock) Nanoseconds() uint64 {
	return clk.ticks * 100 / 6
}
