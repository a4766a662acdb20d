// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// responseFromHeader marks commands whose payload length is read from a
// header at the start of the payload.
const responseFromHeader = -1

// commandInfo holds the per-command defaults of the catalog
type commandInfo struct {
	name         string
	timeout      time.Duration
	responseSize int
	// exempt from forced-NAK injection
	neverForceNak bool
}

var catalog = map[CommandID]commandInfo{
	CmdPing:             {name: "PING", timeout: time.Second, responseSize: DeviceStatusSize, neverForceNak: true},
	CmdGarbageCollect:   {name: "GARBAGE_COLLECT", timeout: 2 * time.Minute, neverForceNak: true},
	CmdDownloadAndPlay:  {name: "DOWNLOAD_AND_PLAY", timeout: 30 * time.Second},
	CmdSetConfiguration: {name: "SET_CONFIGURATION", timeout: time.Second},
	CmdDownloadErrorLog: {name: "DOWNLOAD_ERROR_LOG", timeout: time.Second, responseSize: ErrorLogSize},
	CmdDownloadCrashLog: {name: "DOWNLOAD_CRASH_LOG", timeout: time.Second, responseSize: CrashLogSize},
	CmdEraseCrashLog:    {name: "ERASE_CRASH_LOG", timeout: 5 * time.Second},

	CmdLfsGetStatistics:            {name: "LFS_GET_STATISTICS", timeout: time.Second, responseSize: FileSystemStatisticsSize},
	CmdLfsGetFileSystemStatusFlags: {name: "LFS_GET_STATUS_FLAGS", timeout: time.Second, responseSize: DirtyFlagsSize},
	CmdLfsDownloadGlobalTables:     {name: "LFS_DOWNLOAD_GLOBAL_TABLES", timeout: 10 * time.Second, responseSize: responseFromHeader},
	CmdLfsUploadDataBlockToRam:     {name: "LFS_UPLOAD_DATA_BLOCK_TO_RAM", timeout: 5 * time.Second},
	CmdLfsDownloadDataBlockFromRam: {name: "LFS_DOWNLOAD_DATA_BLOCK_FROM_RAM", timeout: 5 * time.Second},
	CmdLfsChecksumDataBlockInRam:   {name: "LFS_CHECKSUM_DATA_BLOCK_IN_RAM", timeout: 2 * time.Second, responseSize: 4},
	CmdLfsUpdateGdtFromRam:         {name: "LFS_UPDATE_GDT_FROM_RAM", timeout: 2 * time.Minute},
	CmdLfsUpdateGftFromRam:         {name: "LFS_UPDATE_GFT_FROM_RAM", timeout: 2 * time.Minute},
	CmdLfsCreateForkFromRam:        {name: "LFS_CREATE_FORK_FROM_RAM", timeout: 2 * time.Minute},
	CmdLfsCopyForkToRam:            {name: "LFS_COPY_FORK_TO_RAM", timeout: 30 * time.Second},
	CmdLfsUpdateGktFromRam:         {name: "LFS_UPDATE_GKT_FROM_RAM", timeout: 2 * time.Minute},
	CmdLfsDeleteFork:               {name: "LFS_DELETE_FORK", timeout: time.Minute},
	CmdLfsDeleteFile:               {name: "LFS_DELETE_FILE", timeout: time.Minute},
	CmdLfsDeleteDirectory:          {name: "LFS_DELETE_DIRECTORY", timeout: time.Minute},
	CmdLfsReformatFileSystem:       {name: "LFS_REFORMAT_FILE_SYSTEM", timeout: 10 * time.Minute},

	CmdFirmwareGetRevisions:       {name: "FIRMWARE_GET_REVISIONS", timeout: time.Second, responseSize: FirmwareRevisionsSize},
	CmdFirmwareValidateImageInRam: {name: "FIRMWARE_VALIDATE_IMAGE_IN_RAM", timeout: 10 * time.Second, responseSize: 4},
	CmdFirmwareEraseSecondary:     {name: "FIRMWARE_ERASE_SECONDARY", timeout: 2 * time.Minute},
	CmdFirmwareProgramSecondary:   {name: "FIRMWARE_PROGRAM_SECONDARY", timeout: 5 * time.Minute},

	CmdDebugSetHardwareStatus:    {name: "DEBUG_SET_HARDWARE_STATUS", timeout: time.Second},
	CmdDebugRandomDropConnection: {name: "DEBUG_RANDOM_DROP_CONNECTION", timeout: time.Second},
}

// Known reports whether id is part of the command catalog
func (id CommandID) Known() bool {
	_, ok := catalog[id]
	return ok
}

// DefaultTimeout returns the catalog response timeout for id
func (id CommandID) DefaultTimeout() time.Duration {
	return catalog[id].timeout
}

// ResponseSize returns the catalog payload size for id. It is negative when
// the size is read from a header at the start of the payload.
func (id CommandID) ResponseSize() int {
	return catalog[id].responseSize
}

// Command is one protocol operation ready to be sent to a device.
// Commands are immutable once constructed.
type Command struct {
	id           CommandID
	timeout      time.Duration
	args         [ArgCount]uint32
	payload      []byte
	chunkSize    int
	responseSize int
	crc24        uint32
}

// newCommand builds a command with catalog defaults. Unset args are UnusedArg.
func newCommand(id CommandID, args ...uint32) Command {
	info := catalog[id]
	c := Command{
		id:           id,
		timeout:      info.timeout,
		responseSize: info.responseSize,
	}
	for i := range c.args {
		if i < len(args) {
			c.args[i] = args[i]
		} else {
			c.args[i] = UnusedArg
		}
	}
	return c
}

// ID returns the command id
func (c Command) ID() CommandID {
	return c.id
}

// Name returns the catalog name of the command
func (c Command) Name() string {
	return FormatCommandName(c.id)
}

// Timeout returns the response timeout
func (c Command) Timeout() time.Duration {
	return c.timeout
}

// WithTimeout returns a copy of the command with a different response timeout
func (c Command) WithTimeout(d time.Duration) Command {
	c.timeout = d
	return c
}

// Args returns the four frame arguments
func (c Command) Args() [ArgCount]uint32 {
	return c.args
}

// Payload returns the data sent after the device acknowledges the frame
func (c Command) Payload() []byte {
	return c.payload
}

// WriteChunkSize returns the payload write size, <= 0 means one write
func (c Command) WriteChunkSize() int {
	return c.chunkSize
}

// WithWriteChunkSize returns a copy that writes its payload in chunks of n
// bytes. Some serial drivers stall on large single writes.
func (c Command) WithWriteChunkSize(n int) Command {
	c.chunkSize = n
	return c
}

// ResponseSize returns the fixed payload size, or -1 when the size is read
// from the payload header.
func (c Command) ResponseSize() int {
	return c.responseSize
}

// RunningCRC24 returns the CRC-24 chained through the payload of an upload
func (c Command) RunningCRC24() uint32 {
	return c.crc24
}

// ForcedNakAllowed reports whether test fault injection may force a NAK
func (c Command) ForcedNakAllowed() bool {
	return !catalog[c.id].neverForceNak
}

// Serialize encodes the command frame:
//
//	[0xAA][id][id^0xFF][0x55][arg0][arg1][arg2][arg3][crc32]
//
// Arguments and CRC are little-endian. The CRC covers the first 20 bytes.
func (c Command) Serialize() []byte {
	frame := make([]byte, FrameSize)
	frame[0] = HeaderLead
	frame[1] = byte(c.id)
	frame[2] = byte(c.id) ^ 0xFF
	frame[3] = HeaderTail
	for i, arg := range c.args {
		binary.LittleEndian.PutUint32(frame[HeaderSize+i*4:], arg)
	}
	crc := CalculateCRC(frame[:crcDataSize])
	binary.LittleEndian.PutUint32(frame[crcDataSize:], crc)
	return frame
}

// MarshalBinary implements encoding.BinaryMarshaler
func (c Command) MarshalBinary() ([]byte, error) {
	return c.Serialize(), nil
}

// UnmarshalBinary is not supported: only the device decodes commands.
// Use DecodeFrame to inspect raw frames.
func (c *Command) UnmarshalBinary(data []byte) error {
	return ErrNotImplemented
}

// ReadResponsePayload reads the command's response payload from r
func (c Command) ReadResponsePayload(r io.Reader) ([]byte, error) {
	switch {
	case c.responseSize == 0:
		return nil, nil

	case c.responseSize == responseFromHeader:
		header := make([]byte, GlobalTablesHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, fmt.Errorf("read %s header: %w", c.Name(), err)
		}
		size, err := GlobalTablesSize(header)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, size)
		copy(payload, header)
		if _, err := io.ReadFull(r, payload[GlobalTablesHeaderSize:]); err != nil {
			return nil, fmt.Errorf("read %s body: %w", c.Name(), err)
		}
		return payload, nil

	default:
		payload := make([]byte, c.responseSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read %s payload (%d bytes): %w", c.Name(), c.responseSize, err)
		}
		return payload, nil
	}
}

// Frame is a raw decoded command frame
type Frame struct {
	ID   CommandID
	Args [ArgCount]uint32
	CRC  uint32
}

// DecodeFrame parses and checks a 24-byte command frame
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if len(data) < FrameSize {
		return f, fmt.Errorf("frame too short: %d bytes (need %d)", len(data), FrameSize)
	}
	if data[0] != HeaderLead || data[3] != HeaderTail {
		return f, fmt.Errorf("bad frame header: % X", data[:HeaderSize])
	}
	if data[1]^0xFF != data[2] {
		return f, fmt.Errorf("command id check failed: 0x%02X / 0x%02X", data[1], data[2])
	}
	f.ID = CommandID(data[1])
	for i := range f.Args {
		f.Args[i] = binary.LittleEndian.Uint32(data[HeaderSize+i*4:])
	}
	f.CRC = binary.LittleEndian.Uint32(data[crcDataSize:])
	if calc := CalculateCRC(data[:crcDataSize]); calc != f.CRC {
		return f, fmt.Errorf("CRC mismatch: expected 0x%08X, got 0x%08X", calc, f.CRC)
	}
	return f, nil
}

// ValidateResponse reports whether crc matches the CRC32 of the buffered
// response bytes (ACK through status byte).
func ValidateResponse(response []byte, crc uint32) bool {
	return CalculateCRC(response) == crc
}
