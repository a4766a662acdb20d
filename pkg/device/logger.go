// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package device

import "log"

// Logger receives engine diagnostics
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NoopLogger discards everything
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// StdLogger writes through a standard library logger
type StdLogger struct {
	L       *log.Logger
	Verbose bool // include Debug messages
}

func (s StdLogger) Debug(format string, args ...interface{}) {
	if s.Verbose {
		s.L.Printf("DEBUG: "+format, args...)
	}
}

func (s StdLogger) Info(format string, args ...interface{}) {
	s.L.Printf("INFO: "+format, args...)
}

func (s StdLogger) Error(format string, args ...interface{}) {
	s.L.Printf("ERROR: "+format, args...)
}
