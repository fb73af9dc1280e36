// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package probe

import (
	"github.com/go-lpc/usbcap/internal/usbfs"
	"golang.org/x/xerrors"
)

// Device is an opened analyzer with its capture interface claimed.
type Device struct {
	*Control

	path string
	usb  *usbfs.Device
}

var (
	findDevice = usbfs.Find
	openDevice = usbfs.Open
)

// Open opens the first analyzer attached to the host.
func Open() (*Device, error) {
	path, err := findDevice(VendorID, ProductID)
	if err != nil {
		return nil, xerrors.Errorf("probe: could not find analyzer: %w", err)
	}

	usb, err := openDevice(path)
	if err != nil {
		return nil, xerrors.Errorf("probe: could not open analyzer: %w", err)
	}

	err = usb.Claim(Interface)
	if err != nil {
		_ = usb.Close()
		return nil, xerrors.Errorf("probe: could not claim capture interface: %w", err)
	}

	return &Device{
		Control: NewControl(usb),
		path:    path,
		usb:     usb,
	}, nil
}

// Path returns the usbfs node of the device.
func (dev *Device) Path() string { return dev.path }

// USB returns the underlying usbfs device.
func (dev *Device) USB() *usbfs.Device { return dev.usb }

// Close releases the capture interface and closes the device.
func (dev *Device) Close() error {
	if dev.usb == nil {
		return nil
	}
	err := dev.usb.Release(Interface)
	if e := dev.usb.Close(); e != nil && err == nil {
		err = e
	}
	dev.usb = nil
	if err != nil {
		return xerrors.Errorf("probe: could not close analyzer: %w", err)
	}
	return nil
}
