// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"
)

// Pipeline is a single capture session.
type Pipeline struct {
	ctl Controller
	ep  Endpoint
	w   io.Writer
	cfg config
	msg log.MsgStream

	id    string
	ring  *ring
	guard guard
	prog  *rate.Limiter

	stop    atomic.Bool
	started atomic.Bool
	bytes   atomic.Int64
}

// New creates a capture session reading from ep and writing to w.
func New(ctl Controller, ep Endpoint, w io.Writer, opts ...Option) (*Pipeline, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.speed > 3 {
		return nil, xerrors.Errorf("capture: invalid speed %d", uint8(cfg.speed))
	}
	if cfg.poll <= 0 {
		return nil, xerrors.Errorf("capture: invalid poll interval %v", cfg.poll)
	}

	r, err := newRing(ep, cfg.transfers, cfg.size)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		ctl:   ctl,
		ep:    ep,
		w:     w,
		cfg:   cfg,
		msg:   cfg.msg,
		id:    uuid.NewString(),
		ring:  r,
		guard: newGuard(cfg.transfers),
	}
	if cfg.progress > 0 {
		p.prog = rate.NewLimiter(rate.Every(cfg.progress), 1)
	}
	return p, nil
}

// ID returns the session identifier.
func (p *Pipeline) ID() string { return p.id }

// Bytes returns the number of bytes written to the sink so far.
func (p *Pipeline) Bytes() int64 { return p.bytes.Load() }

// Stop requests the end of the capture.
// Stop may be called from any goroutine.
func (p *Pipeline) Stop() { p.stop.Store(true) }

// Close releases the transfer buffers.
func (p *Pipeline) Close() error {
	return p.ring.close()
}

// Run runs the capture session until Stop is called, ctx is done or an
// error occurs. A session can only be run once.
//
// Once the start-capture request has been issued, Run always cancels the
// in-flight transfers and issues exactly one stop-capture request before
// returning.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.started.CompareAndSwap(false, true) {
		return xerrors.Errorf("capture: session %s already run", p.id)
	}

	release := context.AfterFunc(ctx, p.Stop)
	defer release()

	mask, err := p.ctl.Speeds()
	if err != nil {
		return xerrors.Errorf("capture: could not query speeds: %w", err)
	}
	p.msg.Infof("available speeds: %v", mask)
	if !mask.Has(p.cfg.speed) {
		p.msg.Warnf("speed %v not advertised by analyzer (speeds=%v)", p.cfg.speed, mask)
	}

	defer func() {
		e := p.ctl.StopCapture()
		if e == nil {
			return
		}
		if err != nil {
			p.msg.Errorf("could not stop capture: %+v", e)
			return
		}
		err = xerrors.Errorf("capture: could not stop capture: %w", e)
	}()

	err = p.ctl.StartCapture(p.cfg.speed)
	if err != nil {
		return xerrors.Errorf("capture: could not start capture: %w", err)
	}
	p.msg.Infof("session %s: capturing at %v speed", p.id, p.cfg.speed)

	err = p.ring.submitAll()
	if err == nil {
		err = p.loop()
	}
	if p.stop.Load() && err == nil {
		p.msg.Infof("session %s: stop requested", p.id)
	}

	e := p.shutdown(err == nil)
	switch {
	case err == nil:
		err = e
	case e != nil:
		p.msg.Errorf("could not shut down session %s: %+v", p.id, e)
	}

	p.msg.Infof("session %s: total read: %dB", p.id, p.Bytes())
	return err
}

func (p *Pipeline) loop() error {
	for !p.stop.Load() {
		c, ok, err := p.ep.Reap(p.cfg.poll)
		if err != nil {
			return xerrors.Errorf("capture: could not reap transfer: %w", err)
		}
		if !ok {
			continue
		}

		err = p.handle(c)
		if err != nil {
			return err
		}

		if p.stop.Load() {
			break
		}
		err = p.ring.resubmit(c.Slot)
		if err != nil {
			return err
		}
	}
	return nil
}

// handle validates a completion and writes its buffer to the sink.
func (p *Pipeline) handle(c Completion) error {
	buf := p.ring.complete(c.Slot)

	err := p.guard.check(c.Slot)
	if err != nil {
		return err
	}

	switch {
	case c.Status != StatusCompleted:
		return xerrors.Errorf(
			"capture: transfer %d completed with status %v: %w",
			c.Slot, c.Status, ErrTransferStatus,
		)
	case c.N <= 0 || c.N > len(buf):
		return xerrors.Errorf(
			"capture: transfer %d completed with length %d: %w",
			c.Slot, c.N, ErrShortTransfer,
		)
	}

	_, err = p.w.Write(buf[:c.N])
	if err != nil {
		return xerrors.Errorf("capture: could not write transfer %d: %w", c.Slot, err)
	}

	n := p.bytes.Add(int64(c.N))
	if p.prog != nil && p.prog.Allow() {
		p.msg.Infof("total read: %dB", n)
	}
	return nil
}

// shutdown cancels the in-flight transfers and collects their completions.
// When clean, successful completions are still written to the sink until
// the first failed or cancelled one.
func (p *Pipeline) shutdown(clean bool) error {
	var err error
	if e := p.ring.cancelAll(); e != nil {
		p.msg.Warnf("%+v", e)
	}

	deadline := time.Now().Add(p.cfg.drain)
	writing := clean
	for p.ring.inflight() > 0 {
		left := time.Until(deadline)
		if left <= 0 {
			return xerrors.Errorf(
				"capture: %d transfers still in flight after %v",
				p.ring.inflight(), p.cfg.drain,
			)
		}

		c, ok, e := p.ep.Reap(min(left, p.cfg.poll))
		if e != nil {
			return xerrors.Errorf("capture: could not reap cancelled transfer: %w", e)
		}
		if !ok {
			continue
		}

		if !writing {
			p.ring.complete(c.Slot)
			continue
		}

		switch e := p.handle(c); {
		case e == nil:
			// keep draining.
		case xerrors.Is(e, ErrOutOfOrder),
			xerrors.Is(e, ErrTransferStatus),
			xerrors.Is(e, ErrShortTransfer):
			p.msg.Debugf("drain stopped: %v", e)
			writing = false
		default:
			writing = false
			if err == nil {
				err = e
			}
		}
	}
	return err
}
