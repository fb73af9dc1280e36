// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package usbfs

import (
	"time"

	"golang.org/x/xerrors"
)

// Device is an opened usbfs device node.
type Device struct{}

// Open opens the usbfs device node at path.
func Open(path string) (*Device, error) {
	return nil, xerrors.Errorf("usbfs: could not open %q: %w", path, ErrUnsupported)
}

func (dev *Device) Claim(iface uint8) error   { return ErrUnsupported }
func (dev *Device) Release(iface uint8) error { return ErrUnsupported }

func (dev *Device) Control(rtype, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	return 0, ErrUnsupported
}

func (dev *Device) Submit(slot int, ep uint8, buf []byte) error { return ErrUnsupported }
func (dev *Device) Discard(slot int) error                      { return ErrUnsupported }

func (dev *Device) Reap(timeout time.Duration) (Completion, bool, error) {
	return Completion{}, false, ErrUnsupported
}

func (dev *Device) Close() error { return nil }
