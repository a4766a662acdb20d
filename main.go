// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors
//
// ltoctl - LTO Flash! device control
//
// A CLI tool for querying and managing LTO Flash! cartridges over a serial
// port, a WebSocket bridge, or an in-memory simulator.

package main

import (
	"os"

	"github.com/ltoflash/ltoctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
