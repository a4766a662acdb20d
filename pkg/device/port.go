// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package device

import (
	"errors"
	"io"
	"time"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// Port is the byte stream to one physical (or simulated) device.
//
// Reads that time out must return an error matching locutus.ErrTimeout.
// Timeout setters may fail once the device is disconnected; the engine
// ignores those errors when restoring settings.
type Port interface {
	io.Reader
	io.Writer

	ReadTimeout() time.Duration
	SetReadTimeout(d time.Duration) error
	WriteTimeout() time.Duration
	SetWriteTimeout(d time.Duration) error

	// BaudRate is used to estimate transfer times, 0 if unknown
	BaudRate() int

	// WaitForBeacon discards input until a full beacon is seen or timeout
	// expires, and reports whether a beacon was seen
	WaitForBeacon(timeout time.Duration) bool

	// Logf records port-level diagnostics
	Logf(format string, args ...interface{})
}

// ScanForBeacon implements Port.WaitForBeacon for ports without native
// support. The read timeout is restored before returning.
func ScanForBeacon(p Port, timeout time.Duration) bool {
	previous := p.ReadTimeout()
	defer p.SetReadTimeout(previous)

	deadline := time.Now().Add(timeout)
	matcher := locutus.NewAckMatcher()
	buf := make([]byte, 64)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if err := p.SetReadTimeout(remaining); err != nil {
			return false
		}
		n, err := p.Read(buf)
		for i := 0; i < n; i++ {
			matcher.ConsumeByte(buf[i])
			if matcher.Beacons() > 0 {
				return true
			}
		}
		if err != nil && !errors.Is(err, locutus.ErrTimeout) {
			return false
		}
	}
}

// writeAll writes buf in full, in chunks of chunkSize when chunkSize > 0
func writeAll(w io.Writer, buf []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(buf)
	}
	for sent := 0; sent < len(buf); {
		end := sent + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		n, err := w.Write(buf[sent:end])
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		sent += n
	}
	return nil
}

// estimateTransferTime returns the wire time for n bytes at 8N1
func estimateTransferTime(n, baudRate int) time.Duration {
	if baudRate <= 0 {
		return 0
	}
	return time.Duration(n) * 10 * time.Second / time.Duration(baudRate)
}
