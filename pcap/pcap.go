// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pcap writes USB packets in the libpcap file format.
//
// Files are written in big-endian (network) byte order with nanosecond
// timestamp resolution. See https://wiki.wireshark.org/Development/LibpcapFileFormat
// for a description of the format.
package pcap // import "github.com/go-lpc/usbcap/pcap"

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

const (
	magicNanoseconds = 0xa1b23c4d
	versionMajor     = 2
	versionMinor     = 4

	fileHeaderSize   = 24
	recordHeaderSize = 16
)

// DefaultSnapLen is the snapshot length declared by default in file headers.
const DefaultSnapLen = 0x20000

// LinkType is the link-layer header type declared in a file header.
type LinkType uint32

// LinkTypeUSB20 describes USB 2.0, 1.1 or 1.0 packets, each starting with
// its PID byte, as produced by the Cynthion analyzer.
const LinkTypeUSB20 LinkType = 288

// Writer writes a pcap stream to an underlying io.Writer.
//
// WriteHeader must be called exactly once, before any call to WritePacket.
type Writer struct {
	w   io.Writer
	buf [fileHeaderSize]byte
	err error

	hdr bool
}

// NewWriter returns a new Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes the global file header.
func (w *Writer) WriteHeader(snaplen uint32, lt LinkType) error {
	if w.hdr {
		return xerrors.Errorf("pcap: file header already written")
	}
	w.hdr = true

	p := w.buf[:fileHeaderSize]
	binary.BigEndian.PutUint32(p[0:4], magicNanoseconds)
	binary.BigEndian.PutUint16(p[4:6], versionMajor)
	binary.BigEndian.PutUint16(p[6:8], versionMinor)
	binary.BigEndian.PutUint32(p[8:12], 0)  // thiszone: UTC
	binary.BigEndian.PutUint32(p[12:16], 0) // sigfigs
	binary.BigEndian.PutUint32(p[16:20], snaplen)
	binary.BigEndian.PutUint32(p[20:24], uint32(lt))

	w.write(p)
	if w.err != nil {
		return xerrors.Errorf("pcap: could not write file header: %w", w.err)
	}
	return nil
}

// WritePacket writes one packet record stamped at ns nanoseconds.
// The captured length always equals the original length: packets are
// never truncated.
func (w *Writer) WritePacket(ns uint64, payload []byte) error {
	if w.err != nil {
		return w.err
	}
	if !w.hdr {
		return xerrors.Errorf("pcap: packet written before file header")
	}
	n := len(payload)

	const nsPerSec = 1000000000
	p := w.buf[:recordHeaderSize]
	binary.BigEndian.PutUint32(p[0:4], uint32(ns/nsPerSec))
	binary.BigEndian.PutUint32(p[4:8], uint32(ns%nsPerSec))
	binary.BigEndian.PutUint32(p[8:12], uint32(n))
	binary.BigEndian.PutUint32(p[12:16], uint32(n))

	w.write(p)
	if n > 0 {
		w.write(payload)
	}
	if w.err != nil {
		return xerrors.Errorf("pcap: could not write packet record: %w", w.err)
	}
	return nil
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}
