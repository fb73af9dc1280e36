// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"errors"
	"syscall"
	"time"

	"github.com/go-lpc/usbcap/internal/usbfs"
	"github.com/go-lpc/usbcap/probe"
)

type urbDevice interface {
	Submit(slot int, ep uint8, buf []byte) error
	Discard(slot int) error
	Reap(timeout time.Duration) (usbfs.Completion, bool, error)
}

type usbEndpoint struct {
	dev  urbDevice
	addr uint8
}

// NewUSBEndpoint returns the bulk-in endpoint addr of a usbfs device.
func NewUSBEndpoint(dev *usbfs.Device, addr uint8) Endpoint {
	return &usbEndpoint{dev: dev, addr: addr}
}

func (ep *usbEndpoint) Submit(slot int, buf []byte) error {
	return ep.dev.Submit(slot, ep.addr, buf)
}

func (ep *usbEndpoint) Cancel(slot int) error {
	err := ep.dev.Discard(slot)
	if errors.Is(err, syscall.EINVAL) {
		// already completed.
		return nil
	}
	return err
}

func (ep *usbEndpoint) Reap(timeout time.Duration) (Completion, bool, error) {
	c, ok, err := ep.dev.Reap(timeout)
	if err != nil || !ok {
		return Completion{}, ok, err
	}
	return Completion{
		Slot:   c.Slot,
		Status: statusOf(c.Err()),
		N:      c.N,
	}, true, nil
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusCompleted
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ECONNRESET):
		return StatusCancelled
	case errors.Is(err, syscall.EPIPE):
		return StatusStall
	case errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ESHUTDOWN):
		return StatusNoDevice
	case errors.Is(err, syscall.EOVERFLOW):
		return StatusOverflow
	case errors.Is(err, syscall.ETIMEDOUT):
		return StatusTimedOut
	default:
		return StatusError
	}
}

// Device is an analyzer ready for capture.
type Device interface {
	Controller
	Endpoint() Endpoint
	Close() error
}

type probeDevice struct {
	*probe.Device
	ep Endpoint
}

func (dev *probeDevice) Endpoint() Endpoint { return dev.ep }

// OpenProbe opens the first analyzer attached to the host.
func OpenProbe() (Device, error) {
	dev, err := probe.Open()
	if err != nil {
		return nil, err
	}
	return &probeDevice{
		Device: dev,
		ep:     NewUSBEndpoint(dev.USB(), probe.Endpoint),
	}, nil
}
