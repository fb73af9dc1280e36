// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"github.com/go-lpc/usbcap/internal/mmap"
	"golang.org/x/xerrors"
)

// ring holds the transfer slots and their receive buffers.
// A buffer belongs to the endpoint while its slot is busy.
type ring struct {
	ep   Endpoint
	mem  *mmap.Handle
	bufs [][]byte
	busy []bool
}

func newRing(ep Endpoint, n, size int) (*ring, error) {
	if n <= 0 {
		return nil, xerrors.Errorf("capture: invalid number of transfers %d", n)
	}
	if size <= 0 {
		return nil, xerrors.Errorf("capture: invalid transfer size %d", size)
	}

	mem, err := mmap.Anon(n * size)
	if err != nil {
		return nil, xerrors.Errorf("capture: could not allocate transfer buffers: %w", err)
	}
	raw, err := mem.Bytes()
	if err != nil {
		_ = mem.Close()
		return nil, xerrors.Errorf("capture: could not access transfer buffers: %w", err)
	}

	r := &ring{
		ep:   ep,
		mem:  mem,
		bufs: make([][]byte, n),
		busy: make([]bool, n),
	}
	for i := range r.bufs {
		beg := i * size
		end := beg + size
		r.bufs[i] = raw[beg:end:end]
	}
	return r, nil
}

func (r *ring) len() int { return len(r.bufs) }

func (r *ring) valid(i int) bool { return 0 <= i && i < len(r.bufs) }

func (r *ring) submitAll() error {
	for i := range r.bufs {
		err := r.resubmit(i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ring) resubmit(i int) error {
	err := r.ep.Submit(i, r.bufs[i])
	if err != nil {
		return xerrors.Errorf("capture: could not submit transfer %d: %w", i, err)
	}
	r.busy[i] = true
	return nil
}

// complete marks slot i as idle and hands its buffer back.
func (r *ring) complete(i int) []byte {
	if !r.valid(i) {
		return nil
	}
	r.busy[i] = false
	return r.bufs[i]
}

// cancelAll requests the cancellation of all busy slots and returns the
// first error encountered.
func (r *ring) cancelAll() error {
	var err error
	for i, busy := range r.busy {
		if !busy {
			continue
		}
		e := r.ep.Cancel(i)
		if e != nil && err == nil {
			err = xerrors.Errorf("capture: could not cancel transfer %d: %w", i, e)
		}
	}
	return err
}

func (r *ring) inflight() int {
	n := 0
	for _, busy := range r.busy {
		if busy {
			n++
		}
	}
	return n
}

func (r *ring) close() error {
	if n := r.inflight(); n > 0 {
		return xerrors.Errorf("capture: %d transfers still in flight", n)
	}
	r.bufs = nil
	return r.mem.Close()
}

// guard checks completions come back in cyclic submission order.
type guard struct {
	n    int
	last int
	seen bool
}

func newGuard(n int) guard {
	return guard{n: n, last: -1}
}

func (g *guard) check(i int) error {
	if i < 0 || i >= g.n {
		return xerrors.Errorf("capture: completion for unknown transfer %d: %w", i, ErrOutOfOrder)
	}
	last := g.last
	g.last = i
	if g.seen && (last+1)%g.n != i {
		return xerrors.Errorf("capture: transfer %d completed after %d: %w", i, last, ErrOutOfOrder)
	}
	g.seen = true
	return nil
}
