// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command usbcap-srv starts a TDAQ server capturing from a Cynthion
// USB analyzer.
//
// The raw analyzer stream is published on the /usb output port.
package main // import "github.com/go-lpc/usbcap/cmd/usbcap-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/usbcap"
	"github.com/go-lpc/usbcap/capture"
)

func main() {
	cmd := flags.New()

	dev := capture.NewServer(cmd.Args[0])

	srv := tdaq.New(cmd, os.Stdout)
	log.Printf("%s", usbcap.VersionString())
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/usb", dev.Output)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
