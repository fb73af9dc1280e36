// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/go-lpc/usbcap/internal/usbfs"
)

func TestGuard(t *testing.T) {
	for _, tc := range []struct {
		name  string
		slots []int
		fail  int // index of the first failing check, -1 if none
	}{
		{"cyclic", []int{0, 1, 2, 3, 0, 1, 2, 3, 0}, -1},
		{"first-anywhere", []int{2, 3, 0, 1}, -1},
		{"skip", []int{0, 1, 3}, 2},
		{"repeat", []int{0, 0}, 1},
		{"backwards", []int{1, 0}, 1},
		{"unknown", []int{0, 4}, 1},
		{"negative", []int{-1}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := newGuard(4)
			for i, slot := range tc.slots {
				err := g.check(slot)
				switch {
				case i == tc.fail:
					if !errors.Is(err, ErrOutOfOrder) {
						t.Fatalf("check #%d: invalid error: %+v", i, err)
					}
					return
				case err != nil:
					t.Fatalf("check #%d: unexpected error: %+v", i, err)
				}
			}
			if tc.fail >= 0 {
				t.Fatalf("missing ordering violation")
			}
		})
	}
}

func TestRing(t *testing.T) {
	ep := newFakeEndpoint()
	r, err := newRing(ep, 3, 8)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}

	for i := range r.bufs {
		if got, want := len(r.bufs[i]), 8; got != want {
			t.Fatalf("invalid buffer length: got=%d, want=%d", got, want)
		}
		if got, want := cap(r.bufs[i]), 8; got != want {
			t.Fatalf("invalid buffer capacity: got=%d, want=%d", got, want)
		}
	}

	err = r.submitAll()
	if err != nil {
		t.Fatalf("could not submit transfers: %+v", err)
	}
	if got, want := r.inflight(), 3; got != want {
		t.Fatalf("invalid inflight: got=%d, want=%d", got, want)
	}

	err = r.close()
	if err == nil {
		t.Fatalf("expected an error closing a busy ring")
	}

	if buf := r.complete(1); len(buf) != 8 {
		t.Fatalf("invalid completed buffer")
	}
	if buf := r.complete(7); buf != nil {
		t.Fatalf("invalid buffer for unknown slot")
	}
	if got, want := r.inflight(), 2; got != want {
		t.Fatalf("invalid inflight: got=%d, want=%d", got, want)
	}

	err = r.cancelAll()
	if err != nil {
		t.Fatalf("could not cancel transfers: %+v", err)
	}
	if got, want := ep.cancels, []int{0, 2}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("invalid cancels: got=%v, want=%v", got, want)
	}

	r.complete(0)
	r.complete(2)
	err = r.close()
	if err != nil {
		t.Fatalf("could not close ring: %+v", err)
	}
}

type fakeURBs struct {
	completion usbfs.Completion
	discardErr error
	submitted  []uint8
}

func (dev *fakeURBs) Submit(slot int, ep uint8, buf []byte) error {
	dev.submitted = append(dev.submitted, ep)
	return nil
}

func (dev *fakeURBs) Discard(slot int) error { return dev.discardErr }

func (dev *fakeURBs) Reap(timeout time.Duration) (usbfs.Completion, bool, error) {
	return dev.completion, true, nil
}

func TestUSBEndpoint(t *testing.T) {
	for _, tc := range []struct {
		errno syscall.Errno
		want  Status
	}{
		{0, StatusCompleted},
		{syscall.ENOENT, StatusCancelled},
		{syscall.ECONNRESET, StatusCancelled},
		{syscall.EPIPE, StatusStall},
		{syscall.ENODEV, StatusNoDevice},
		{syscall.ESHUTDOWN, StatusNoDevice},
		{syscall.EOVERFLOW, StatusOverflow},
		{syscall.ETIMEDOUT, StatusTimedOut},
		{syscall.EPROTO, StatusError},
	} {
		t.Run(tc.want.String(), func(t *testing.T) {
			dev := &fakeURBs{
				completion: usbfs.Completion{Slot: 2, Status: -int32(tc.errno), N: 42},
			}
			ep := &usbEndpoint{dev: dev, addr: 0x81}

			err := ep.Submit(2, make([]byte, 4))
			if err != nil {
				t.Fatalf("could not submit: %+v", err)
			}
			if got, want := dev.submitted[0], uint8(0x81); got != want {
				t.Fatalf("invalid endpoint: got=0x%x, want=0x%x", got, want)
			}

			c, ok, err := ep.Reap(time.Millisecond)
			if err != nil || !ok {
				t.Fatalf("could not reap: ok=%v, err=%+v", ok, err)
			}
			want := Completion{Slot: 2, Status: tc.want, N: 42}
			if c != want {
				t.Fatalf("invalid completion: got=%+v, want=%+v", c, want)
			}
		})
	}

	dev := &fakeURBs{discardErr: syscall.EINVAL}
	ep := &usbEndpoint{dev: dev, addr: 0x81}
	if err := ep.Cancel(0); err != nil {
		t.Fatalf("cancel of a completed transfer: %+v", err)
	}
	dev.discardErr = syscall.ENODEV
	if err := ep.Cancel(0); !errors.Is(err, syscall.ENODEV) {
		t.Fatalf("invalid cancel error: %+v", err)
	}
}

func TestStatusString(t *testing.T) {
	if got, want := Status(42).String(), "Status(42)"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}
