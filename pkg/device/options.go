// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package device

import (
	"time"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// Config holds the engine configuration
type Config struct {
	// Logger receives engine diagnostics
	Logger Logger

	// WriteTimeout is the minimum write timeout for every command
	WriteTimeout time.Duration

	// WriteChunkSize splits upload payloads into writes of this size, <= 0 disables
	WriteChunkSize int

	// BeaconTimeout bounds beacon waits after a NAK, an error status or a launch
	BeaconTimeout time.Duration

	// ResponseTimeout replaces every command's response timeout when > 0
	ResponseTimeout time.Duration

	// Faults injects failures for tests, nil in normal use
	Faults *Faults
}

func defaultConfig() Config {
	return Config{
		Logger:        NoopLogger{},
		WriteTimeout:  time.Second,
		BeaconTimeout: locutus.BeaconResyncTimeout,
	}
}

// Option is a functional option for configuring a Device
type Option func(*Config)

// WithLogger sets the engine logger
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithWriteTimeout sets the minimum write timeout
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.WriteTimeout = timeout
		}
	}
}

// WithWriteChunkSize splits upload payloads into fixed-size writes. Works
// around drivers that stall on large writes.
func WithWriteChunkSize(size int) Option {
	return func(c *Config) {
		c.WriteChunkSize = size
	}
}

// WithBeaconTimeout sets the beacon resynchronisation timeout
func WithBeaconTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.BeaconTimeout = timeout
		}
	}
}

// WithResponseTimeout overrides the catalog response timeout of every command
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ResponseTimeout = timeout
	}
}

// WithFaults enables test fault injection
func WithFaults(f *Faults) Option {
	return func(c *Config) {
		c.Faults = f
	}
}

// Faults forces failures on the next executed command. Each flag clears once
// it has been applied.
type Faults struct {
	// ForceNextFailure marks the next command failed after it completes
	ForceNextFailure bool

	// ForceNextNAK sends the next frame with a bad CRC so the device refuses
	// it. Ping and GarbageCollect are never forced.
	ForceNextNAK bool
}
