// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usbcap holds code to capture USB traffic with a Cynthion
// analyzer and to convert the captured stream into pcap files.
//
// The capture side (package capture) pumps the raw probe stream from the
// device bulk endpoint into a byte sink. The decode side (package decode)
// turns that stream into pcap records (package pcap), possibly much later
// and in another process.
package usbcap // import "github.com/go-lpc/usbcap"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of usbcap and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

// VersionString returns a one-line description of the running usbcap
// version, suitable for command banners.
func VersionString() string {
	return versionString(Version())
}

func versionString(version, sum string) string {
	switch {
	case version == "":
		return "usbcap (unknown version)"
	case sum == "":
		return "usbcap " + version
	default:
		return fmt.Sprintf("usbcap %s (%s)", version, sum)
	}
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/usbcap"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
