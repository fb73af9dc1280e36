// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decode

import (
	"errors"
	"io"
	"os"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/usbcap/pcap"
	"golang.org/x/xerrors"
)

// Stats summarizes a conversion.
type Stats struct {
	Bytes    int64  // bytes read from the source
	Events   uint64 // event frames decoded
	Packets  uint64 // packet records written
	Ticks    uint64 // final value of the clock accumulator
	Leftover int    // bytes left over at end of input
}

// Option configures a conversion.
type Option func(*config)

type config struct {
	msg     log.MsgStream
	snaplen uint32
	chunk   int
}

func newConfig() config {
	return config{
		msg:     log.NewMsgStream("decode", log.LvlInfo, os.Stderr),
		snaplen: pcap.DefaultSnapLen,
		chunk:   0x10004,
	}
}

// WithMsgStream sets the stream diagnostics are reported to.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSnapLen sets the snapshot length declared in the pcap file header.
// It must be at least MaxPacketLength: records are never truncated.
func WithSnapLen(n uint32) Option {
	return func(cfg *config) {
		cfg.snaplen = n
	}
}

// WithChunkSize sets the size of the reads issued on the source.
func WithChunkSize(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.chunk = n
		}
	}
}

// Convert reads the probe stream from r until EOF and writes the
// corresponding pcap stream to w.
//
// Bytes left over at the end of input are not an error: they are
// reported in the returned Stats. Records written before an error
// are valid.
func Convert(w io.Writer, r io.Reader, opts ...Option) (Stats, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.snaplen < MaxPacketLength {
		return Stats{}, xerrors.Errorf(
			"decode: snapshot length %d below maximum packet length %d",
			cfg.snaplen, MaxPacketLength,
		)
	}

	cnv := converter{
		msg: cfg.msg,
		dec: NewDecoder(),
		out: pcap.NewWriter(w),
	}

	err := cnv.out.WriteHeader(cfg.snaplen, pcap.LinkTypeUSB20)
	if err != nil {
		return cnv.stats, xerrors.Errorf("decode: could not write pcap header: %w", err)
	}

	buf := make([]byte, cfg.chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			cnv.stats.Bytes += int64(n)
			cnv.dec.Feed(buf[:n])
			if err := cnv.drain(); err != nil {
				return cnv.stats, err
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return cnv.stats, xerrors.Errorf("decode: could not read input stream: %w", err)
		}
	}

	cnv.stats.Leftover = cnv.dec.Close()
	cnv.stats.Ticks = cnv.clk.Ticks()
	if cnv.stats.Leftover > 0 {
		cnv.msg.Warnf(
			"%d bytes left over at end of input (offset %d)",
			cnv.stats.Leftover, cnv.dec.Offset(),
		)
	}

	return cnv.stats, nil
}

type converter struct {
	msg   log.MsgStream
	dec   *Decoder
	clk   Clock
	out   *pcap.Writer
	stats Stats
}

func (cnv *converter) drain() error {
	for f := range cnv.dec.Frames() {
		cnv.clk.Advance(f.Ticks())
		switch f.Kind {
		case KindEvent:
			cnv.stats.Events++
			if f.Code == EventClockCarry {
				cnv.msg.Debugf("%v", f)
				continue
			}
			cnv.msg.Infof("%v", f)

		case KindPacket:
			err := cnv.out.WritePacket(cnv.clk.Nanoseconds(), f.Payload)
			if err != nil {
				return xerrors.Errorf(
					"decode: could not write packet #%d: %w",
					cnv.stats.Packets+1, err,
				)
			}
			cnv.stats.Packets++
		}
	}
	return cnv.dec.Err()
}
