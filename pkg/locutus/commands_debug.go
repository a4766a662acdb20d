// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

//go:build debug

package locutus

// Fault injection commands for the simulator. Not part of release builds.

// NewDebugSetHardwareStatus creates a DEBUG_SET_HARDWARE_STATUS command (0xF0).
// The simulator reports flags in its next Ping responses.
func NewDebugSetHardwareStatus(flags uint32) Command {
	return newCommand(CmdDebugSetHardwareStatus, flags)
}

// NewDebugRandomDropConnection creates a DEBUG_RANDOM_DROP_CONNECTION command (0xF1).
// The simulator drops roughly percent of later responses.
func NewDebugRandomDropConnection(percent uint8) (Command, error) {
	if percent > 100 {
		return Command{}, validationError("DEBUG_RANDOM_DROP_CONNECTION", ErrArgumentOutOfRange,
			"drop percentage %d exceeds 100", percent)
	}
	return newCommand(CmdDebugRandomDropConnection, uint32(percent)), nil
}
