// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"
)

type fakeDevice struct {
	*fakeController
	ep     *fakeEndpoint
	closed int
}

func (dev *fakeDevice) Endpoint() Endpoint { return dev.ep }
func (dev *fakeDevice) Close() error {
	dev.closed++
	return nil
}

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tctx := tdaq.Context{
		Ctx: ctx,
		Msg: log.NewMsgStream("usbcap-srv", log.LvlError, io.Discard),
	}

	dev := &fakeDevice{
		fakeController: &fakeController{mask: 0x0f},
		ep:             newFakeEndpoint(),
	}

	srv := NewServer("usbcap-srv", WithPollInterval(time.Millisecond), WithDrainTimeout(100*time.Millisecond))
	srv.newDevice = func() (Device, error) { return dev, nil }

	var (
		resp tdaq.Frame
		req  tdaq.Frame
	)

	err := srv.OnStart(tctx, &resp, req)
	if err == nil {
		t.Fatalf("expected an error starting an unconfigured server")
	}

	err = srv.OnConfig(tctx, &resp, req)
	if err != nil {
		t.Fatalf("could not run /config: %+v", err)
	}

	err = srv.OnStart(tctx, &resp, req)
	if err == nil {
		t.Fatalf("expected an error starting an uninitialized server")
	}

	for _, cmd := range []struct {
		name string
		fct  func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"/init", srv.OnInit},
		{"/start", srv.OnStart},
	} {
		err := cmd.fct(tctx, &resp, req)
		if err != nil {
			t.Fatalf("could not run %s: %+v", cmd.name, err)
		}
	}

	err = srv.OnStart(tctx, &resp, req)
	if err == nil {
		t.Fatalf("expected an error starting a running session")
	}

	for i := 0; i < 5; i++ {
		var dst tdaq.Frame
		err := srv.Output(tctx, &dst)
		if err != nil {
			t.Fatalf("could not read output frame #%d: %+v", i, err)
		}
		want := bytes.Repeat([]byte{byte(i)}, fakeChunk)
		if !bytes.Equal(dst.Body, want) {
			t.Fatalf("invalid output frame #%d:\ngot= %x\nwant=%x", i, dst.Body, want)
		}
	}

	for _, cmd := range []struct {
		name string
		fct  func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"/stop", srv.OnStop},
		{"/stop", srv.OnStop},
		{"/quit", srv.OnQuit},
	} {
		err := cmd.fct(tctx, &resp, req)
		if err != nil {
			t.Fatalf("could not run %s: %+v", cmd.name, err)
		}
	}

	want := []string{"speeds", "speeds", "start(high)", "stop"}
	if !reflect.DeepEqual(dev.calls, want) {
		t.Fatalf("invalid controller calls:\ngot= %q\nwant=%q", dev.calls, want)
	}
	if got, want := dev.closed, 1; got != want {
		t.Fatalf("invalid number of device close: got=%d, want=%d", got, want)
	}
}

func TestServerRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tctx := tdaq.Context{
		Ctx: ctx,
		Msg: log.NewMsgStream("usbcap-srv", log.LvlError, io.Discard),
	}

	dev := &fakeDevice{
		fakeController: &fakeController{mask: 0x0f},
		ep:             newFakeEndpoint(),
	}

	srv := NewServer("usbcap-srv", WithPollInterval(time.Millisecond), WithDrainTimeout(100*time.Millisecond))
	srv.newDevice = func() (Device, error) { return dev, nil }

	var (
		resp tdaq.Frame
		req  tdaq.Frame
	)
	for _, cmd := range []struct {
		name string
		fct  func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"/config", srv.OnConfig},
		{"/init", srv.OnInit},
		{"/start", srv.OnStart},
	} {
		err := cmd.fct(tctx, &resp, req)
		if err != nil {
			t.Fatalf("could not run %s: %+v", cmd.name, err)
		}
	}

	// leave frames of the first session unpublished.
	deadline := time.Now().Add(5 * time.Second)
	for len(srv.data) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("first session did not produce frames")
		}
		time.Sleep(time.Millisecond)
	}

	err := srv.OnStop(tctx, &resp, req)
	if err != nil {
		t.Fatalf("could not run /stop: %+v", err)
	}

	ep := newFakeEndpoint()
	ep.reaps = 100
	dev.ep = ep

	err = srv.OnStart(tctx, &resp, req)
	if err != nil {
		t.Fatalf("could not restart session: %+v", err)
	}

	for i := 0; i < 3; i++ {
		var dst tdaq.Frame
		err := srv.Output(tctx, &dst)
		if err != nil {
			t.Fatalf("could not read output frame #%d: %+v", i, err)
		}
		want := bytes.Repeat([]byte{byte(100 + i)}, fakeChunk)
		if !bytes.Equal(dst.Body, want) {
			t.Fatalf("invalid output frame #%d:\ngot= %x\nwant=%x", i, dst.Body, want)
		}
	}

	err = srv.OnQuit(tctx, &resp, req)
	if err != nil {
		t.Fatalf("could not run /quit: %+v", err)
	}
}

func TestServerConfigSpeed(t *testing.T) {
	tctx := tdaq.Context{
		Ctx: context.Background(),
		Msg: log.NewMsgStream("usbcap-srv", log.LvlError, io.Discard),
	}

	errBoom := errors.New("boom")
	srv := NewServer("usbcap-srv")
	srv.newDevice = func() (Device, error) { return nil, errBoom }

	var resp tdaq.Frame
	err := srv.OnConfig(tctx, &resp, tdaq.Frame{})
	if !errors.Is(err, errBoom) {
		t.Fatalf("invalid error: %+v", err)
	}

	dev := &fakeDevice{
		fakeController: &fakeController{mask: 0x0f},
		ep:             newFakeEndpoint(),
	}
	srv.newDevice = func() (Device, error) { return dev, nil }

	body := new(bytes.Buffer)
	tdaq.NewEncoder(body).WriteStr("low")
	err = srv.OnConfig(tctx, &resp, tdaq.Frame{Body: body.Bytes()})
	if err != nil {
		t.Fatalf("could not run /config: %+v", err)
	}
	if got, want := srv.speed.String(), "low"; got != want {
		t.Fatalf("invalid speed: got=%q, want=%q", got, want)
	}

	err = srv.OnReset(tctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not run /reset: %+v", err)
	}
	if dev.closed != 1 {
		t.Fatalf("device not closed on /reset")
	}
}
