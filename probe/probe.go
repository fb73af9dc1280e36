// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package probe drives the control channel of a Cynthion USB analyzer.
package probe // import "github.com/go-lpc/usbcap/probe"

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

const (
	VendorID  = 0x1d50
	ProductID = 0x615b

	Interface = 0    // capture interface
	Endpoint  = 0x81 // bulk-in capture endpoint
)

const (
	reqTypeVendorIn  = 0xc1 // device-to-host, vendor, interface
	reqTypeVendorOut = 0x41 // host-to-device, vendor, interface

	reqCapture = 1
	reqSpeeds  = 2

	ctlTimeout = 1000 * time.Millisecond
)

// Speed is the bus speed the analyzer captures at.
type Speed uint8

const (
	SpeedHigh Speed = iota
	SpeedFull
	SpeedLow
	SpeedAuto
)

var speedNames = [...]string{"high", "full", "low", "auto"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return "Speed(" + strconv.Itoa(int(s)) + ")"
}

func (s Speed) valid() bool {
	return s <= SpeedAuto
}

// ParseSpeed parses a speed from its name or its index.
func ParseSpeed(v string) (Speed, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range speedNames {
		if v == name {
			return Speed(i), nil
		}
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 || i > int(SpeedAuto) {
		return 0, xerrors.Errorf("probe: invalid speed %q", v)
	}
	return Speed(i), nil
}

// SpeedMask is the set of speeds advertised by the analyzer.
type SpeedMask uint8

// Has reports whether s is part of the mask.
func (m SpeedMask) Has(s Speed) bool {
	return s.valid() && m&(1<<s) != 0
}

func (m SpeedMask) String() string {
	var names []string
	for i := range speedNames {
		if m.Has(Speed(i)) {
			names = append(names, speedNames[i])
		}
	}
	return "0x" + strconv.FormatUint(uint64(m), 16) + "[" + strings.Join(names, "|") + "]"
}

// Conn issues control transfers on the default control endpoint of a device.
type Conn interface {
	Control(rtype, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

// Control issues the analyzer vendor requests over a control endpoint.
type Control struct {
	ctl Conn
}

// NewControl returns the control channel of the analyzer reachable
// through ctl.
func NewControl(ctl Conn) *Control {
	return &Control{ctl: ctl}
}

// Speeds queries the speeds supported by the analyzer.
func (c *Control) Speeds() (SpeedMask, error) {
	buf := make([]byte, 64)
	n, err := c.ctl.Control(reqTypeVendorIn, reqSpeeds, 0, 0, buf, ctlTimeout)
	if err != nil {
		return 0, xerrors.Errorf("probe: could not query speeds: %w", err)
	}
	if n != 1 {
		return 0, xerrors.Errorf("probe: invalid speeds reply size (got=%d, want=1)", n)
	}
	return SpeedMask(buf[0]), nil
}

// StartCapture starts capturing at the provided speed.
func (c *Control) StartCapture(s Speed) error {
	if !s.valid() {
		return xerrors.Errorf("probe: invalid speed %d", uint8(s))
	}
	_, err := c.ctl.Control(reqTypeVendorOut, reqCapture, 1|uint16(s)<<1, 0, nil, ctlTimeout)
	if err != nil {
		return xerrors.Errorf("probe: could not start capture at %v speed: %w", s, err)
	}
	return nil
}

// StopCapture stops the capture.
func (c *Control) StopCapture() error {
	_, err := c.ctl.Control(reqTypeVendorOut, reqCapture, 0, 0, nil, ctlTimeout)
	if err != nil {
		return xerrors.Errorf("probe: could not stop capture: %w", err)
	}
	return nil
}
