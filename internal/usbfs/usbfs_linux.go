// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package usbfs

import (
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const (
	ioctlControl          = 0xc0185500
	ioctlClaimInterface   = 0x8004550f
	ioctlReleaseInterface = 0x80045510
	ioctlSubmitURB        = 0x8038550a
	ioctlDiscardURB       = 0x0000550b
	ioctlReapURBNoDelay   = 0x4008550d
)

const urbTypeBulk = 3

type ctrlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32 // in milliseconds
	Data        unsafe.Pointer
}

// urb mirrors struct usbdevfs_urb, without the trailing iso descriptors.
type urb struct {
	Type            uint8
	Endpoint        uint8
	Status          int32
	Flags           uint32
	Buffer          unsafe.Pointer
	BufferLength    int32
	ActualLength    int32
	StartFrame      int32
	NumberOfPackets int32
	ErrorCount      int32
	Signr           uint32
	UserContext     uintptr
}

// Device is an opened usbfs device node.
type Device struct {
	mu     sync.Mutex
	path   string
	fd     int
	ifaces map[uint8]bool
	urbs   map[int]*urb
	pin    runtime.Pinner
	closed bool
}

// Open opens the usbfs device node at path.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, xerrors.Errorf("usbfs: could not open %q: %w", path, err)
	}
	return &Device{
		path:   path,
		fd:     fd,
		ifaces: make(map[uint8]bool),
		urbs:   make(map[int]*urb),
	}, nil
}

func (dev *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dev.fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// Claim claims the provided interface.
func (dev *Device) Claim(iface uint8) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.ifaces[iface] {
		return nil
	}
	v := uint32(iface)
	err := dev.ioctl(ioctlClaimInterface, unsafe.Pointer(&v))
	if err != nil {
		return xerrors.Errorf("usbfs: could not claim interface %d of %q: %w", iface, dev.path, err)
	}
	dev.ifaces[iface] = true
	return nil
}

// Release releases a previously claimed interface.
func (dev *Device) Release(iface uint8) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.release(iface)
}

func (dev *Device) release(iface uint8) error {
	if !dev.ifaces[iface] {
		return nil
	}
	v := uint32(iface)
	err := dev.ioctl(ioctlReleaseInterface, unsafe.Pointer(&v))
	if err != nil {
		return xerrors.Errorf("usbfs: could not release interface %d of %q: %w", iface, dev.path, err)
	}
	delete(dev.ifaces, iface)
	return nil
}

// Control issues a synchronous control transfer and returns the number of
// bytes transferred in the data stage.
func (dev *Device) Control(rtype, req uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	ctrl := ctrlRequest{
		RequestType: rtype,
		Request:     req,
		Value:       value,
		Index:       index,
		Length:      uint16(len(data)),
		Timeout:     uint32(timeout / time.Millisecond),
	}
	if len(data) > 0 {
		ctrl.Data = unsafe.Pointer(&data[0])
	}

	var pin runtime.Pinner
	defer pin.Unpin()
	if ctrl.Data != nil {
		pin.Pin(ctrl.Data)
	}

	for {
		n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dev.fd), ioctlControl, uintptr(unsafe.Pointer(&ctrl)))
		switch errno {
		case 0:
			return int(n), nil
		case unix.EINTR:
			continue
		default:
			return 0, xerrors.Errorf(
				"usbfs: control transfer 0x%02x/0x%02x failed: %w",
				rtype, req, errno,
			)
		}
	}
}

// Submit queues an asynchronous bulk transfer on endpoint ep, filling buf.
// buf must stay valid until the transfer has been reaped.
func (dev *Device) Submit(slot int, ep uint8, buf []byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return xerrors.Errorf("usbfs: submit on closed device %q", dev.path)
	}
	if len(buf) == 0 {
		return xerrors.Errorf("usbfs: empty transfer buffer for slot %d", slot)
	}

	u, ok := dev.urbs[slot]
	if !ok {
		u = new(urb)
		dev.urbs[slot] = u
		dev.pin.Pin(u)
	}
	*u = urb{
		Type:         urbTypeBulk,
		Endpoint:     ep,
		Buffer:       unsafe.Pointer(&buf[0]),
		BufferLength: int32(len(buf)),
		UserContext:  uintptr(slot),
	}
	dev.pin.Pin(u.Buffer)

	err := dev.ioctl(ioctlSubmitURB, unsafe.Pointer(u))
	if err != nil {
		return xerrors.Errorf("usbfs: could not submit transfer for slot %d: %w", slot, err)
	}
	return nil
}

// Discard cancels the in-flight transfer of the provided slot.
// The cancelled transfer still has to be reaped.
func (dev *Device) Discard(slot int) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	u, ok := dev.urbs[slot]
	if !ok {
		return xerrors.Errorf("usbfs: no transfer for slot %d", slot)
	}
	err := dev.ioctl(ioctlDiscardURB, unsafe.Pointer(u))
	if err != nil {
		return xerrors.Errorf("usbfs: could not discard transfer for slot %d: %w", slot, err)
	}
	return nil
}

// Reap waits at most timeout for a transfer to complete.
// Reap returns false when no transfer completed in time.
func (dev *Device) Reap(timeout time.Duration) (Completion, bool, error) {
	fds := []unix.PollFd{{Fd: int32(dev.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	switch {
	case err == unix.EINTR:
		return Completion{}, false, nil
	case err != nil:
		return Completion{}, false, xerrors.Errorf("usbfs: could not poll %q: %w", dev.path, err)
	case n == 0:
		return Completion{}, false, nil
	}

	var u *urb
	err = dev.ioctl(ioctlReapURBNoDelay, unsafe.Pointer(&u))
	switch {
	case err == unix.EAGAIN:
		return Completion{}, false, nil
	case err != nil:
		return Completion{}, false, xerrors.Errorf("usbfs: could not reap transfer: %w", err)
	}

	return Completion{
		Slot:   int(u.UserContext),
		Status: u.Status,
		N:      int(u.ActualLength),
	}, true, nil
}

// Close releases claimed interfaces and closes the device node.
// In-flight transfers are cancelled by the kernel.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return nil
	}
	dev.closed = true

	var err error
	for iface := range dev.ifaces {
		if e := dev.release(iface); e != nil && err == nil {
			err = e
		}
	}

	if e := unix.Close(dev.fd); e != nil && err == nil {
		err = xerrors.Errorf("usbfs: could not close %q: %w", dev.path, e)
	}
	dev.pin.Unpin()
	dev.urbs = nil

	return err
}
