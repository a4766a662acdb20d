// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulator flags
	simulate bool
	simState string

	// Engine flags
	responseTimeout time.Duration
	writeChunkSize  int
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "ltoctl",
	Short: "LTO Flash! device control",
	Long: `ltoctl - A CLI tool for talking to LTO Flash! cartridges.

Sends protocol commands to the cartridge to query its status, read logs,
inspect and edit the file system tables, move data through device RAM,
launch ROMs and manage firmware.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 2000000]
  WebSocket: --url ws://host/path [--username user]
  Simulator: --simulate [--sim-state state.cbor]

For WebSocket authentication, the password is read from the LTO_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 2000000, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Simulator flags
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use an in-memory simulated device")
	rootCmd.PersistentFlags().StringVar(&simState, "sim-state", "", "Load and save simulator state from this CBOR file")

	// Engine flags
	rootCmd.PersistentFlags().DurationVar(&responseTimeout, "timeout", 0, "Override the response timeout of every command")
	rootCmd.PersistentFlags().IntVar(&writeChunkSize, "write-chunk", 0, "Split payload writes into chunks of this many bytes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol diagnostics to stderr")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
