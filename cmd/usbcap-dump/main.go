// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command usbcap-dump captures the raw stream of a Cynthion USB analyzer.
//
// Usage: usbcap-dump [OPTIONS]
//
// The raw stream is written to stdout, or to the file given with -o.
// Capture stops on SIGINT, SIGTERM or SIGABRT.
//
// Example:
//
//	$> usbcap-dump -speed=full -o capture.raw
//	$> usbcap-dump -speed=high -pcap > capture.pcap
package main // import "github.com/go-lpc/usbcap/cmd/usbcap-dump"

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/usbcap"
	"github.com/go-lpc/usbcap/capture"
	"github.com/go-lpc/usbcap/decode"
	"github.com/go-lpc/usbcap/internal/diag"
	"github.com/go-lpc/usbcap/probe"
	"github.com/klauspost/compress/gzip"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var openDevice = capture.OpenProbe

func main() {
	log.SetPrefix("usbcap-dump: ")
	log.SetFlags(0)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	defer signal.Stop(stop)

	err := xmain(os.Stdout, os.Args[1:], stop)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type config struct {
	speed   probe.Speed
	oname   string
	gzip    bool
	pcap    bool
	logname string
	verbose bool
	pmon    bool
	freq    time.Duration
}

func xmain(stdout io.Writer, args []string, stop <-chan os.Signal) error {
	var (
		fset = flag.NewFlagSet("usbcap-dump", flag.ContinueOnError)

		speed   = fset.String("speed", "high", "capture speed (high, full, low, auto or 0-3)")
		oname   = fset.String("o", "", "path to output file (default: stdout)")
		doGzip  = fset.Bool("z", false, "gzip-compress the output stream")
		doPcap  = fset.Bool("pcap", false, "convert the raw stream to pcap on the fly")
		logname = fset.String("log", "", "path to a rotating diagnostics log file (default: stderr)")
		doMon   = fset.Bool("pmon", false, "enable pmon self-monitoring")
		freq    = fset.Duration("freq", 1*time.Second, "pmon frequency")
		verbose = fset.Bool("v", false, "enable verbose mode")
		version = fset.Bool("version", false, "print version and exit")
	)

	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), `usbcap-dump captures the raw stream of a Cynthion USB analyzer.

Usage: usbcap-dump [OPTIONS]

Example:

 $> usbcap-dump -speed=full -o capture.raw
 $> usbcap-dump -speed=high -pcap > capture.pcap

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if *version {
		fmt.Fprintln(stdout, usbcap.VersionString())
		return nil
	}

	spd, err := probe.ParseSpeed(*speed)
	if err != nil {
		return err
	}

	cfg := config{
		speed:   spd,
		oname:   *oname,
		gzip:    *doGzip,
		pcap:    *doPcap,
		logname: *logname,
		verbose: *verbose,
		pmon:    *doMon,
		freq:    *freq,
	}

	msg, closer := diag.New("usbcap-dump", cfg.logname, cfg.verbose)
	defer closer.Close()

	if cfg.pmon {
		stopMon, err := monitor(cfg, msg)
		if err != nil {
			return err
		}
		defer stopMon()
	}

	dev, err := openDevice()
	if err != nil {
		return fmt.Errorf("could not open analyzer: %w", err)
	}
	defer func() {
		err := dev.Close()
		if err != nil {
			msg.Warnf("could not close analyzer: %+v", err)
		}
	}()

	if cfg.oname != "" {
		f, err := os.Create(cfg.oname)
		if err != nil {
			return fmt.Errorf("could not create output file: %w", err)
		}
		err = run(f, dev, cfg, msg, stop)
		if e := f.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("could not close output file: %w", e))
		}
		return err
	}

	return run(stdout, dev, cfg, msg, stop)
}

// run captures from dev into w until a signal is received on stop or an
// error occurs.
func run(w io.Writer, dev capture.Device, cfg config, msg tlog.MsgStream, stop <-chan os.Signal) error {
	bw := bufio.NewWriterSize(w, 64*1024)

	var (
		sink io.Writer = bw
		zw   *gzip.Writer
	)
	if cfg.gzip {
		zw = gzip.NewWriter(bw)
		sink = zw
	}

	var (
		grp errgroup.Group
		pw  *io.PipeWriter
	)
	if cfg.pcap {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		out := sink
		grp.Go(func() error {
			stats, err := decode.Convert(out, pr, decode.WithMsgStream(msg))
			if err != nil {
				_ = pr.CloseWithError(err)
				return fmt.Errorf("could not convert stream to pcap: %w", err)
			}
			msg.Infof("pcap: %d packets, %d events", stats.Packets, stats.Events)
			return nil
		})
		sink = pw
	}

	pipe, err := capture.New(
		dev, dev.Endpoint(), sink,
		capture.WithSpeed(cfg.speed),
		capture.WithMsgStream(msg),
	)
	if err != nil {
		if pw != nil {
			_ = pw.CloseWithError(err)
			_ = grp.Wait()
		}
		return fmt.Errorf("could not create capture session: %w", err)
	}
	defer pipe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case sig := <-stop:
			msg.Infof("stopped due to signal %q", sig)
			pipe.Stop()
		case <-ctx.Done():
		}
	}()

	err = pipe.Run(ctx)
	if pw != nil {
		_ = pw.CloseWithError(err)
		if e := grp.Wait(); e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		err = fmt.Errorf("could not capture: %w", err)
	}

	// buffers handed to the sink before a failure are kept.
	if zw != nil {
		if e := zw.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("could not close gzip stream: %w", e))
		}
	}
	if e := bw.Flush(); e != nil {
		err = errors.Join(err, fmt.Errorf("could not flush output stream: %w", e))
	}
	return err
}

func monitor(cfg config, msg tlog.MsgStream) (func(), error) {
	fname := "usbcap-dump-pmon.log"
	if cfg.oname != "" {
		fname = cfg.oname + ".pmon"
	}

	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}

	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not start monitoring: %w", err)
	}
	p.W = f
	p.Freq = cfg.freq

	go func() {
		err := p.Run()
		if err != nil {
			msg.Warnf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			msg.Warnf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}
