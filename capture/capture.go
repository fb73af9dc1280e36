// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capture pumps the raw stream of a Cynthion analyzer from its
// bulk-in endpoint into a byte sink.
//
// A fixed number of transfers are kept in flight. Completions must come
// back in the cyclic order they were submitted; each completed buffer is
// written in full to the sink before its transfer is resubmitted.
package capture // import "github.com/go-lpc/usbcap/capture"

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/usbcap/probe"
)

var (
	ErrOutOfOrder     = errors.New("capture: out of order completion")
	ErrTransferStatus = errors.New("capture: transfer failed")
	ErrShortTransfer  = errors.New("capture: empty transfer")
)

// Status is the completion status of a transfer.
type Status uint8

const (
	StatusCompleted Status = iota
	StatusError
	StatusTimedOut
	StatusCancelled
	StatusStall
	StatusNoDevice
	StatusOverflow
)

func (st Status) String() string {
	switch st {
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusTimedOut:
		return "timed-out"
	case StatusCancelled:
		return "cancelled"
	case StatusStall:
		return "stall"
	case StatusNoDevice:
		return "no-device"
	case StatusOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("Status(%d)", uint8(st))
	}
}

// Completion describes a finished transfer.
type Completion struct {
	Slot   int    // index of the transfer slot
	Status Status // completion status
	N      int    // number of bytes received
}

// Endpoint is an asynchronous bulk-in endpoint.
type Endpoint interface {
	// Submit queues a transfer filling buf, identified by slot.
	Submit(slot int, buf []byte) error
	// Cancel requests the cancellation of the transfer of slot.
	// A cancelled transfer still completes.
	Cancel(slot int) error
	// Reap waits at most timeout for the next completion.
	Reap(timeout time.Duration) (Completion, bool, error)
}

// Controller drives the capture state of the analyzer.
type Controller interface {
	Speeds() (probe.SpeedMask, error)
	StartCapture(probe.Speed) error
	StopCapture() error
}
