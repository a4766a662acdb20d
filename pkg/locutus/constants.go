// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

// Package locutus provides a host-side Go implementation of the LTO Flash!
// (Locutus) device protocol.
//
// The host sends fixed 24-byte command frames and reads back an ACK or NAK,
// an optional payload, a status byte and a CRC32 over the response. This
// package covers frame encoding, the command catalog, response decoding,
// ACK/beacon matching and the RAM block planner used for bulk table updates.
package locutus

import "time"

// Frame layout
const (
	HeaderLead  = 0xAA
	HeaderTail  = 0x55
	HeaderSize  = 4
	ArgCount    = 4
	ArgsSize    = ArgCount * 4
	CRCSize     = 4
	FrameSize   = HeaderSize + ArgsSize + CRCSize // 24
	UnusedArg   = 0xFFFFFFFF
	crcDataSize = HeaderSize + ArgsSize
)

// Response bytes
const (
	Ack           = 0xAA
	Nak           = 0xEE
	StatusSuccess = 0x00
	StatusError   = 0xFF
)

// Beacon is emitted by the device while it changes state. The host skips it
// while waiting for an ACK.
const Beacon = "LOCUTUS\n"

// Device RAM
const (
	TotalRAMSize = 0x10000
)

// ReformatMagic must be passed as the first argument of LfsReformatFileSystem.
const ReformatMagic = 0x4A5A6A7A

// Acknowledgement timing
const (
	AckReadAttempts = 6
	AckReadTimeout  = 200 * time.Millisecond
)

// BeaconResyncTimeout bounds the wait for a beacon after a NAK or error status.
const BeaconResyncTimeout = 2 * time.Second

// CommandID identifies a protocol operation.
type CommandID uint8

// Device commands 0x00-0x0F
const (
	CmdPing             CommandID = 0x00
	CmdGarbageCollect   CommandID = 0x01
	CmdDownloadAndPlay  CommandID = 0x02
	CmdSetConfiguration CommandID = 0x03
	CmdDownloadErrorLog CommandID = 0x04
	CmdDownloadCrashLog CommandID = 0x05
	CmdEraseCrashLog    CommandID = 0x06
)

// File system commands 0x10-0x1F
const (
	CmdLfsGetStatistics            CommandID = 0x10
	CmdLfsGetFileSystemStatusFlags CommandID = 0x11
	CmdLfsDownloadGlobalTables     CommandID = 0x13
	CmdLfsUploadDataBlockToRam     CommandID = 0x14
	CmdLfsDownloadDataBlockFromRam CommandID = 0x15
	CmdLfsChecksumDataBlockInRam   CommandID = 0x16
	CmdLfsUpdateGdtFromRam         CommandID = 0x17
	CmdLfsUpdateGftFromRam         CommandID = 0x18
	CmdLfsCreateForkFromRam        CommandID = 0x19
	CmdLfsCopyForkToRam            CommandID = 0x1A
	CmdLfsUpdateGktFromRam         CommandID = 0x1B
	CmdLfsDeleteFork               CommandID = 0x1C
	CmdLfsDeleteFile               CommandID = 0x1D
	CmdLfsDeleteDirectory          CommandID = 0x1E
	CmdLfsReformatFileSystem       CommandID = 0x1F
)

// Firmware commands 0x20-0x2F
const (
	CmdFirmwareGetRevisions       CommandID = 0x20
	CmdFirmwareValidateImageInRam CommandID = 0x21
	CmdFirmwareEraseSecondary     CommandID = 0x22
	CmdFirmwareProgramSecondary   CommandID = 0x23
)

// Debug commands 0xF0-0xFF, only understood by the simulator
const (
	CmdDebugSetHardwareStatus    CommandID = 0xF0
	CmdDebugRandomDropConnection CommandID = 0xF1
)

// Hardware status flags reported by Ping
const (
	HardwareIntellivisionPowered uint32 = 1 << 0
	HardwareConsoleRunning       uint32 = 1 << 1
	HardwareNewErrorLog          uint32 = 1 << 2
	HardwareNewCrashLog          uint32 = 1 << 3
)

// DirtyFlags bits
const (
	DirtyGlobalDirectoryTable uint32 = 1 << 0
	DirtyGlobalFileTable      uint32 = 1 << 1
	DirtyGlobalForkTable      uint32 = 1 << 2
	DirtyForkData             uint32 = 1 << 3
)

// Table geometry
const (
	MaxDirectoryEntries = 255
	MaxForksPerFile     = 6
	InvalidIndex        = 0xFFFF
)
