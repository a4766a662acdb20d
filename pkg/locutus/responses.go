// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Response payload sizes
const (
	DeviceStatusSize         = 24
	FileSystemStatisticsSize = 32
	DirtyFlagsSize           = 4
	FirmwareRevisionsSize    = 12
	ErrorLogSize             = 128
	CrashLogSize             = 256
	UniqueIDSize             = 16
	maxErrorLogEntries       = (ErrorLogSize - CRCSize) / 2
)

// DeviceStatus is the Ping response
type DeviceStatus struct {
	HardwareFlags      uint32
	ConfigurationFlags uint32
	UniqueID           [UniqueIDSize]byte
}

// ParseDeviceStatus decodes a 24-byte Ping payload
func ParseDeviceStatus(data []byte) (DeviceStatus, error) {
	var s DeviceStatus
	if len(data) < DeviceStatusSize {
		return s, fmt.Errorf("device status too short: %d bytes (expected %d)", len(data), DeviceStatusSize)
	}
	s.HardwareFlags = binary.LittleEndian.Uint32(data[0:4])
	s.ConfigurationFlags = binary.LittleEndian.Uint32(data[4:8])
	copy(s.UniqueID[:], data[8:DeviceStatusSize])
	return s, nil
}

// Bytes encodes the status as the device sends it
func (s DeviceStatus) Bytes() []byte {
	b := make([]byte, DeviceStatusSize)
	binary.LittleEndian.PutUint32(b[0:4], s.HardwareFlags)
	binary.LittleEndian.PutUint32(b[4:8], s.ConfigurationFlags)
	copy(b[8:], s.UniqueID[:])
	return b
}

// UniqueIDString returns the device id as 32 upper-case hex characters
func (s DeviceStatus) UniqueIDString() string {
	return strings.ToUpper(hex.EncodeToString(s.UniqueID[:]))
}

// FileSystemStatistics is the LFS_GET_STATISTICS response
type FileSystemStatistics struct {
	VirtualBlocksAvailable  uint32
	VirtualBlocksTotal      uint32
	PhysicalBlocksAvailable uint32
	PhysicalBlocksClean     uint32
	PhysicalBlocksTotal     uint32
	PhysicalSectorErasures  uint32
	MetadataSectorErasures  uint32
	VirtualToPhysicalMapVer uint32
}

// ParseFileSystemStatistics decodes a 32-byte statistics payload
func ParseFileSystemStatistics(data []byte) (FileSystemStatistics, error) {
	var s FileSystemStatistics
	if len(data) < FileSystemStatisticsSize {
		return s, fmt.Errorf("file system statistics too short: %d bytes (expected %d)", len(data), FileSystemStatisticsSize)
	}
	fields := s.fields()
	for i, f := range fields {
		*f = binary.LittleEndian.Uint32(data[i*4:])
	}
	return s, nil
}

// Bytes encodes the statistics as the device sends them
func (s FileSystemStatistics) Bytes() []byte {
	b := make([]byte, FileSystemStatisticsSize)
	for i, f := range s.fields() {
		binary.LittleEndian.PutUint32(b[i*4:], *f)
	}
	return b
}

func (s *FileSystemStatistics) fields() []*uint32 {
	return []*uint32{
		&s.VirtualBlocksAvailable,
		&s.VirtualBlocksTotal,
		&s.PhysicalBlocksAvailable,
		&s.PhysicalBlocksClean,
		&s.PhysicalBlocksTotal,
		&s.PhysicalSectorErasures,
		&s.MetadataSectorErasures,
		&s.VirtualToPhysicalMapVer,
	}
}

// DirtyFlags reports which file system structures have unsaved changes
type DirtyFlags uint32

// ParseDirtyFlags decodes a 4-byte status flags payload
func ParseDirtyFlags(data []byte) (DirtyFlags, error) {
	if len(data) < DirtyFlagsSize {
		return 0, fmt.Errorf("dirty flags too short: %d bytes (expected %d)", len(data), DirtyFlagsSize)
	}
	return DirtyFlags(binary.LittleEndian.Uint32(data)), nil
}

// Has reports whether all bits in flag are set
func (f DirtyFlags) Has(flag uint32) bool {
	return uint32(f)&flag == flag
}

// FirmwareRevisions is the FIRMWARE_GET_REVISIONS response
type FirmwareRevisions struct {
	Primary   uint32
	Secondary uint32
	Current   uint32
}

// ParseFirmwareRevisions decodes a 12-byte revisions payload
func ParseFirmwareRevisions(data []byte) (FirmwareRevisions, error) {
	var r FirmwareRevisions
	if len(data) < FirmwareRevisionsSize {
		return r, fmt.Errorf("firmware revisions too short: %d bytes (expected %d)", len(data), FirmwareRevisionsSize)
	}
	r.Primary = binary.LittleEndian.Uint32(data[0:4])
	r.Secondary = binary.LittleEndian.Uint32(data[4:8])
	r.Current = binary.LittleEndian.Uint32(data[8:12])
	return r, nil
}

// Bytes encodes the revisions as the device sends them
func (r FirmwareRevisions) Bytes() []byte {
	b := make([]byte, FirmwareRevisionsSize)
	binary.LittleEndian.PutUint32(b[0:4], r.Primary)
	binary.LittleEndian.PutUint32(b[4:8], r.Secondary)
	binary.LittleEndian.PutUint32(b[8:12], r.Current)
	return b
}

// ErrorLog is the DOWNLOAD_ERROR_LOG response
type ErrorLog struct {
	Errors []uint16
	CRC    uint32
	Valid  bool // stored CRC matches the log contents
}

// ParseErrorLog decodes a 128-byte error log: 62 error ids (zero
// terminated) followed by a CRC32 of the preceding bytes.
func ParseErrorLog(data []byte) (ErrorLog, error) {
	var l ErrorLog
	if len(data) < ErrorLogSize {
		return l, fmt.Errorf("error log too short: %d bytes (expected %d)", len(data), ErrorLogSize)
	}
	body := data[:ErrorLogSize-CRCSize]
	l.CRC = binary.LittleEndian.Uint32(data[ErrorLogSize-CRCSize:])
	l.Valid = CalculateCRC(body) == l.CRC
	for i := 0; i < maxErrorLogEntries; i++ {
		id := binary.LittleEndian.Uint16(body[i*2:])
		if id == 0 {
			break
		}
		l.Errors = append(l.Errors, id)
	}
	return l, nil
}

// EncodeErrorLog builds an error log payload with a valid CRC
func EncodeErrorLog(errors []uint16) []byte {
	b := make([]byte, ErrorLogSize)
	for i, id := range errors {
		if i >= maxErrorLogEntries {
			break
		}
		binary.LittleEndian.PutUint16(b[i*2:], id)
	}
	binary.LittleEndian.PutUint32(b[ErrorLogSize-CRCSize:], CalculateCRC(b[:ErrorLogSize-CRCSize]))
	return b
}

// CrashLog is the DOWNLOAD_CRASH_LOG response
type CrashLog struct {
	Data  []byte
	CRC   uint32
	Valid bool
}

// Empty reports whether the crash record is blank (erased flash)
func (c CrashLog) Empty() bool {
	for _, b := range c.Data {
		if b != 0xFF && b != 0x00 {
			return false
		}
	}
	return true
}

// ParseCrashLog decodes a 256-byte crash log
func ParseCrashLog(data []byte) (CrashLog, error) {
	var c CrashLog
	if len(data) < CrashLogSize {
		return c, fmt.Errorf("crash log too short: %d bytes (expected %d)", len(data), CrashLogSize)
	}
	c.Data = append([]byte(nil), data[:CrashLogSize-CRCSize]...)
	c.CRC = binary.LittleEndian.Uint32(data[CrashLogSize-CRCSize:])
	c.Valid = CalculateCRC(c.Data) == c.CRC
	return c, nil
}

// EncodeCrashLog builds a crash log payload with a valid CRC
func EncodeCrashLog(record []byte) []byte {
	b := make([]byte, CrashLogSize)
	for i := range b[:CrashLogSize-CRCSize] {
		b[i] = 0xFF
	}
	copy(b[:CrashLogSize-CRCSize], record)
	binary.LittleEndian.PutUint32(b[CrashLogSize-CRCSize:], CalculateCRC(b[:CrashLogSize-CRCSize]))
	return b
}
