// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package probe

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/usbcap/internal/usbfs"
)

type request struct {
	rtype   uint8
	req     uint8
	value   uint16
	index   uint16
	size    int
	timeout time.Duration
}

type fakeConn struct {
	reqs  []request
	reply []byte
	err   error
}

func (c *fakeConn) Control(rtype, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	c.reqs = append(c.reqs, request{rtype, req, value, index, len(data), timeout})
	if c.err != nil {
		return 0, c.err
	}
	return copy(data, c.reply), nil
}

func TestSpeeds(t *testing.T) {
	for _, tc := range []struct {
		name  string
		reply []byte
		err   error
		want  SpeedMask
		emsg  string
	}{
		{
			name:  "all",
			reply: []byte{0x0f},
			want:  0x0f,
		},
		{
			name:  "high-full",
			reply: []byte{0x03},
			want:  0x03,
		},
		{
			name:  "empty-reply",
			reply: nil,
			emsg:  "probe: invalid speeds reply size (got=0, want=1)",
		},
		{
			name:  "long-reply",
			reply: []byte{0x0f, 0x00},
			emsg:  "probe: invalid speeds reply size (got=2, want=1)",
		},
		{
			name: "pipe",
			err:  errors.New("stall"),
			emsg: "probe: could not query speeds: stall",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConn{reply: tc.reply, err: tc.err}
			got, err := NewControl(conn).Speeds()
			switch {
			case tc.emsg != "":
				if err == nil || err.Error() != tc.emsg {
					t.Fatalf("invalid error:\ngot= %v\nwant=%s", err, tc.emsg)
				}
			case err != nil:
				t.Fatalf("could not query speeds: %+v", err)
			default:
				if got != tc.want {
					t.Fatalf("invalid mask: got=0x%x, want=0x%x", got, tc.want)
				}
			}

			want := []request{{0xc1, 2, 0, 0, 64, time.Second}}
			if !reflect.DeepEqual(conn.reqs, want) {
				t.Fatalf("invalid requests:\ngot= %+v\nwant=%+v", conn.reqs, want)
			}
		})
	}
}

func TestStartStopCapture(t *testing.T) {
	conn := &fakeConn{}
	ctl := NewControl(conn)
	for _, s := range []Speed{SpeedHigh, SpeedFull, SpeedLow, SpeedAuto} {
		err := ctl.StartCapture(s)
		if err != nil {
			t.Fatalf("could not start capture at %v: %+v", s, err)
		}
	}
	err := ctl.StopCapture()
	if err != nil {
		t.Fatalf("could not stop capture: %+v", err)
	}

	want := []request{
		{0x41, 1, 0x1, 0, 0, time.Second},
		{0x41, 1, 0x3, 0, 0, time.Second},
		{0x41, 1, 0x5, 0, 0, time.Second},
		{0x41, 1, 0x7, 0, 0, time.Second},
		{0x41, 1, 0x0, 0, 0, time.Second},
	}
	if !reflect.DeepEqual(conn.reqs, want) {
		t.Fatalf("invalid requests:\ngot= %+v\nwant=%+v", conn.reqs, want)
	}

	err = ctl.StartCapture(Speed(4))
	if err == nil || err.Error() != "probe: invalid speed 4" {
		t.Fatalf("invalid error: %v", err)
	}
	if len(conn.reqs) != len(want) {
		t.Fatalf("invalid speed issued a request")
	}

	conn.err = errors.New("no device")
	err = ctl.StartCapture(SpeedFull)
	if got, want := err.Error(), "probe: could not start capture at full speed: no device"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
	err = ctl.StopCapture()
	if got, want := err.Error(), "probe: could not stop capture: no device"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestParseSpeed(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Speed
		err  bool
	}{
		{"high", SpeedHigh, false},
		{"Full", SpeedFull, false},
		{" low ", SpeedLow, false},
		{"auto", SpeedAuto, false},
		{"0", SpeedHigh, false},
		{"3", SpeedAuto, false},
		{"4", 0, true},
		{"-1", 0, true},
		{"super", 0, true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSpeed(tc.in)
			switch {
			case tc.err:
				if err == nil {
					t.Fatalf("expected an error")
				}
			case err != nil:
				t.Fatalf("could not parse speed: %+v", err)
			case got != tc.want:
				t.Fatalf("got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func TestSpeedMask(t *testing.T) {
	m := SpeedMask(0x05)
	for _, tc := range []struct {
		s    Speed
		want bool
	}{
		{SpeedHigh, true},
		{SpeedFull, false},
		{SpeedLow, true},
		{SpeedAuto, false},
		{Speed(7), false},
	} {
		if got := m.Has(tc.s); got != tc.want {
			t.Fatalf("speed %v: got=%v, want=%v", tc.s, got, tc.want)
		}
	}
	if got, want := m.String(), "0x5[high|low]"; got != want {
		t.Fatalf("invalid mask string: got=%q, want=%q", got, want)
	}
	if got, want := Speed(9).String(), "Speed(9)"; got != want {
		t.Fatalf("invalid speed string: got=%q, want=%q", got, want)
	}
}

func TestOpenNotFound(t *testing.T) {
	defer func(f func(vid, pid uint16) (string, error)) {
		findDevice = f
	}(findDevice)
	findDevice = func(vid, pid uint16) (string, error) {
		if vid != VendorID || pid != ProductID {
			t.Errorf("invalid ids: %04x:%04x", vid, pid)
		}
		return "", usbfs.ErrNotFound
	}

	_, err := Open()
	if !errors.Is(err, usbfs.ErrNotFound) {
		t.Fatalf("invalid error: %+v", err)
	}
}
