// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usbfs provides minimal access to USB devices through the Linux
// usbfs character devices: control transfers and asynchronous bulk-in
// transfers.
package usbfs // import "github.com/go-lpc/usbcap/internal/usbfs"

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned when no device matches the requested IDs.
	ErrNotFound = errors.New("usbfs: device not found")

	// ErrUnsupported is returned on platforms without usbfs.
	ErrUnsupported = errors.New("usbfs: unsupported platform")
)

var (
	sysfsRoot = "/sys/bus/usb/devices"
	devfsRoot = "/dev/bus/usb"
)

// Completion describes a reaped transfer.
type Completion struct {
	Slot   int   // slot the transfer was submitted with
	Status int32 // negative errno, 0 on success
	N      int   // number of bytes actually transferred
}

// Err returns the errno carried by the completion, or nil.
func (c Completion) Err() error {
	if c.Status == 0 {
		return nil
	}
	return syscall.Errno(-c.Status)
}

// Find returns the usbfs device node of the first device matching the
// provided vendor and product IDs.
func Find(vid, pid uint16) (string, error) {
	ids, err := filepath.Glob(filepath.Join(sysfsRoot, "*", "idVendor"))
	if err != nil {
		return "", xerrors.Errorf("usbfs: could not scan sysfs: %w", err)
	}

	for _, fname := range ids {
		dir := filepath.Dir(fname)
		v, err := readHex(filepath.Join(dir, "idVendor"))
		if err != nil || v != vid {
			continue
		}
		p, err := readHex(filepath.Join(dir, "idProduct"))
		if err != nil || p != pid {
			continue
		}
		bus, err := readDec(filepath.Join(dir, "busnum"))
		if err != nil {
			return "", xerrors.Errorf("usbfs: could not read bus number of %q: %w", dir, err)
		}
		dev, err := readDec(filepath.Join(dir, "devnum"))
		if err != nil {
			return "", xerrors.Errorf("usbfs: could not read device number of %q: %w", dir, err)
		}
		return filepath.Join(devfsRoot, fmt.Sprintf("%03d", bus), fmt.Sprintf("%03d", dev)), nil
	}

	return "", xerrors.Errorf("usbfs: no device %04x:%04x: %w", vid, pid, ErrNotFound)
}

func readAttr(fname string) (string, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func readHex(fname string) (uint16, error) {
	str, err := readAttr(fname)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(str, 16, 16)
	return uint16(v), err
}

func readDec(fname string) (int, error) {
	str, err := readAttr(fname)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(str)
}
