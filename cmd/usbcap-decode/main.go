// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command usbcap-decode converts a raw Cynthion stream into a pcap file.
//
// Usage: usbcap-decode [OPTIONS] [FILE]
//
// The raw stream is read from FILE, or from stdin when no file is given,
// and may be gzip-compressed. The pcap stream is written to stdout.
//
// Exit codes:
//
//	0  end of input reached cleanly
//	1  read, framing or write error
//	2  unconsumed bytes left at end of input
//
// Example:
//
//	$> usbcap-decode capture.raw > capture.pcap
//	$> usbcap-dump | usbcap-decode > capture.pcap
package main // import "github.com/go-lpc/usbcap/cmd/usbcap-decode"

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/usbcap"
	"github.com/go-lpc/usbcap/decode"
	"github.com/go-lpc/usbcap/internal/diag"
	"github.com/go-lpc/usbcap/pcap"
	"github.com/klauspost/compress/gzip"
)

const (
	exitOK       = 0
	exitError    = 1
	exitLeftover = 2
)

func main() {
	log.SetPrefix("usbcap-decode: ")
	log.SetFlags(0)

	os.Exit(xmain(os.Stdout, os.Stdin, os.Args[1:]))
}

func xmain(stdout io.Writer, stdin io.Reader, args []string) int {
	var (
		fset = flag.NewFlagSet("usbcap-decode", flag.ContinueOnError)

		snaplen = fset.Uint("snaplen", pcap.DefaultSnapLen, "snapshot length declared in the pcap header")
		logname = fset.String("log", "", "path to a rotating diagnostics log file (default: stderr)")
		verbose = fset.Bool("v", false, "enable verbose mode (report clock-carry events)")
		version = fset.Bool("version", false, "print version and exit")
	)

	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), `usbcap-decode converts a raw Cynthion stream into a pcap file.

Usage: usbcap-decode [OPTIONS] [FILE]

Example:

 $> usbcap-decode capture.raw > capture.pcap
 $> usbcap-dump | usbcap-decode > capture.pcap

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return exitError
	}

	if *version {
		fmt.Fprintln(stdout, usbcap.VersionString())
		return exitOK
	}

	if fset.NArg() > 1 {
		fset.Usage()
		log.Printf("too many input files")
		return exitError
	}

	if *snaplen < decode.MaxPacketLength || *snaplen > 0xffffffff {
		log.Printf("invalid snapshot length %d (min=%d)", *snaplen, decode.MaxPacketLength)
		return exitError
	}

	msg, closer := diag.New("usbcap-decode", *logname, *verbose)
	defer closer.Close()

	r := stdin
	if fset.NArg() == 1 {
		f, err := os.Open(fset.Arg(0))
		if err != nil {
			log.Printf("could not open input file: %+v", err)
			return exitError
		}
		defer f.Close()
		r = f
	}

	stats, err := process(stdout, r, decode.WithMsgStream(msg), decode.WithSnapLen(uint32(*snaplen)))
	if err != nil {
		log.Printf("could not decode stream: %+v", err)
		return exitError
	}

	msg.Infof(
		"decoded %d bytes: %d packets, %d events",
		stats.Bytes, stats.Packets, stats.Events,
	)
	if stats.Leftover > 0 {
		return exitLeftover
	}
	return exitOK
}

// process converts the raw stream read from r into a pcap stream
// written to w. Gzip-compressed input is detected from its magic number.
func process(w io.Writer, r io.Reader, opts ...decode.Option) (decode.Stats, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	src := io.Reader(br)

	magic, err := br.Peek(2)
	if err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return decode.Stats{}, fmt.Errorf("could not open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	stats, err := decode.Convert(bw, src, opts...)
	if e := bw.Flush(); e != nil && err == nil {
		err = fmt.Errorf("could not flush output stream: %w", e)
	}
	return stats, err
}
