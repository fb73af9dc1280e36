// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides page-aligned memory living outside of the Go heap.
//
// Transfer buffers handed to the kernel for asynchronous USB requests are
// allocated from anonymous mappings so they never move nor get collected
// while a request is in flight.
package mmap // import "github.com/go-lpc/usbcap/internal/mmap"

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is an anonymous, private, read-write memory mapping.
type Handle struct {
	data []byte
}

// Anon maps n bytes of zeroed anonymous memory.
func Anon(n int) (*Handle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mmap: invalid mapping size %d", n)
	}

	data, err := unix.Mmap(
		-1, 0, n,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %d bytes: %w", n, err)
	}

	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// Close unmaps the memory. Slices obtained from Bytes must not be used
// after Close.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the size of the mapping.
func (h *Handle) Len() int {
	return len(h.data)
}

// Bytes returns the mapped memory.
func (h *Handle) Bytes() ([]byte, error) {
	if h == nil {
		return nil, os.ErrInvalid
	}
	if h.data == nil {
		return nil, errClosed
	}
	return h.data, nil
}
