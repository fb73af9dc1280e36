// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/usbcap/probe"
)

const (
	DefaultTransfers    = 4
	DefaultTransferSize = 0x4000
)

// Option configures a capture pipeline.
type Option func(*config)

type config struct {
	transfers int
	size      int
	speed     probe.Speed
	msg       log.MsgStream
	poll      time.Duration
	drain     time.Duration
	progress  time.Duration
}

func newConfig() config {
	return config{
		transfers: DefaultTransfers,
		size:      DefaultTransferSize,
		speed:     probe.SpeedHigh,
		msg:       log.NewMsgStream("capture", log.LvlInfo, os.Stderr),
		poll:      100 * time.Millisecond,
		drain:     2 * time.Second,
		progress:  time.Second,
	}
}

// WithTransfers sets the number of transfers kept in flight.
func WithTransfers(n int) Option {
	return func(cfg *config) {
		cfg.transfers = n
	}
}

// WithTransferSize sets the size of each transfer buffer.
func WithTransferSize(n int) Option {
	return func(cfg *config) {
		cfg.size = n
	}
}

// WithSpeed sets the bus speed to capture at.
func WithSpeed(s probe.Speed) Option {
	return func(cfg *config) {
		cfg.speed = s
	}
}

// WithMsgStream sets the diagnostics stream.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithPollInterval sets how long a single wait for completions may last.
// The stop flag is checked between two waits.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll = d
	}
}

// WithDrainTimeout bounds the time spent collecting cancelled transfers.
func WithDrainTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.drain = d
	}
}

// WithProgress sets the minimum interval between two progress reports.
// A zero interval disables progress reports.
func WithProgress(d time.Duration) Option {
	return func(cfg *config) {
		cfg.progress = d
	}
}
