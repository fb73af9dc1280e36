// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/usbcap/probe"
	"golang.org/x/sync/errgroup"
)

// Server exposes a capture session as a tdaq process.
// The raw probe stream is published on an output port, one frame per
// completed transfer.
type Server struct {
	name string
	opts []Option

	newDevice func() (Device, error)

	mu    sync.Mutex
	dev   Device
	speed probe.Speed
	data  chan []byte
	done  chan struct{}
	pipe  *Pipeline
	grp   *errgroup.Group
}

// NewServer returns a tdaq server capturing from the first analyzer
// attached to the host.
func NewServer(name string, opts ...Option) *Server {
	return &Server{
		name:      name,
		opts:      opts,
		newDevice: OpenProbe,
	}
}

// OnConfig opens the analyzer. The request body may carry the name of
// the speed to capture at.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	speed := probe.SpeedHigh
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		v, err := probe.ParseSpeed(dec.ReadStr())
		if err != nil {
			return fmt.Errorf("could not decode /config request: %w", err)
		}
		speed = v
	}

	srv.closeDevice(ctx)
	dev, err := srv.newDevice()
	if err != nil {
		ctx.Msg.Errorf("could not open analyzer: %+v", err)
		return fmt.Errorf("could not open analyzer: %w", err)
	}

	mask, err := dev.Speeds()
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("could not query analyzer speeds: %w", err)
	}
	ctx.Msg.Infof("analyzer speeds: %v", mask)
	if !mask.Has(speed) {
		ctx.Msg.Warnf("speed %v not advertised by analyzer", speed)
	}

	srv.dev = dev
	srv.speed = speed
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return fmt.Errorf("no analyzer configured")
	}
	srv.data = make(chan []byte, 1024)
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.stop(ctx)
	srv.closeDevice(ctx)
	srv.data = nil
	return err
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	switch {
	case srv.dev == nil:
		return fmt.Errorf("no analyzer configured")
	case srv.data == nil:
		return fmt.Errorf("capture session not initialized")
	case srv.pipe != nil:
		return fmt.Errorf("capture session already running")
	}

	if n := drain(srv.data); n > 0 {
		ctx.Msg.Warnf("dropped %d frames left over from previous session", n)
	}

	srv.done = make(chan struct{})
	sink := &chanWriter{ch: srv.data, done: srv.done}
	opts := append([]Option{}, srv.opts...)
	opts = append(opts, WithSpeed(srv.speed), WithMsgStream(ctx.Msg))

	pipe, err := New(srv.dev, srv.dev.Endpoint(), sink, opts...)
	if err != nil {
		return fmt.Errorf("could not create capture session: %w", err)
	}

	grp, gctx := errgroup.WithContext(context.Background())
	grp.Go(func() error {
		return pipe.Run(gctx)
	})

	ctx.Msg.Infof("capture session %s started", pipe.ID())
	srv.pipe = pipe
	srv.grp = grp
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	return srv.stop(ctx)
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.stop(ctx)
	srv.closeDevice(ctx)
	return err
}

// Output publishes the raw probe stream.
func (srv *Server) Output(ctx tdaq.Context, dst *tdaq.Frame) error {
	srv.mu.Lock()
	data := srv.data
	srv.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case buf := <-data:
		dst.Body = buf
	}
	return nil
}

// Run reports the progress of the running session until ctx is done.
func (srv *Server) Run(ctx tdaq.Context) error {
	tck := time.NewTicker(10 * time.Second)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			srv.mu.Lock()
			defer srv.mu.Unlock()
			return srv.stop(ctx)
		case <-tck.C:
			srv.mu.Lock()
			if srv.pipe != nil {
				ctx.Msg.Infof("session %s: total read: %dB", srv.pipe.ID(), srv.pipe.Bytes())
			}
			srv.mu.Unlock()
		}
	}
}

func (srv *Server) stop(ctx tdaq.Context) error {
	if srv.pipe == nil {
		return nil
	}

	srv.pipe.Stop()
	close(srv.done)
	err := srv.grp.Wait()
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}

	ctx.Msg.Infof("capture session %s stopped: total read: %dB", srv.pipe.ID(), srv.pipe.Bytes())
	if e := srv.pipe.Close(); e != nil {
		ctx.Msg.Warnf("could not release capture session: %+v", e)
	}
	srv.pipe = nil
	srv.grp = nil

	if err != nil {
		return fmt.Errorf("capture session failed: %w", err)
	}
	return nil
}

func (srv *Server) closeDevice(ctx tdaq.Context) {
	if srv.dev == nil {
		return
	}
	err := srv.dev.Close()
	if err != nil {
		ctx.Msg.Warnf("could not close analyzer: %+v", err)
	}
	srv.dev = nil
}

// drain discards the buffers pending in ch and returns their number.
func drain(ch chan []byte) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

// chanWriter sends copies of written buffers to a channel.
type chanWriter struct {
	ch   chan<- []byte
	done <-chan struct{}
}

func (w *chanWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case w.ch <- buf:
		return len(p), nil
	case <-w.done:
		return 0, io.ErrClosedPipe
	}
}
