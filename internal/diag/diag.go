// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag creates the diagnostics streams of the usbcap commands.
package diag // import "github.com/go-lpc/usbcap/internal/diag"

import (
	"io"
	"os"

	"github.com/go-daq/tdaq/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level returns the message level of a command.
func Level(verbose bool) log.Level {
	if verbose {
		return log.LvlDebug
	}
	return log.LvlInfo
}

// New returns a message stream named name.
// Messages go to stderr, or to a size-rotated file when fname is not empty.
func New(name, fname string, verbose bool) (log.MsgStream, io.Closer) {
	if fname == "" {
		return log.NewMsgStream(name, Level(verbose), os.Stderr), nopCloser{}
	}
	w := &lumberjack.Logger{
		Filename:   fname,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return log.NewMsgStream(name, Level(verbose), w), w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
