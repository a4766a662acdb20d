// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"fmt"
	"strings"
)

// FormatCommandName returns the human-readable name for a command id
func FormatCommandName(id CommandID) string {
	if info, ok := catalog[id]; ok {
		return info.name
	}
	return "UNKNOWN"
}

// String implements fmt.Stringer
func (id CommandID) String() string {
	return fmt.Sprintf("%s (0x%02X)", FormatCommandName(id), uint8(id))
}

// FormatStatus returns a name for a response status byte
func FormatStatus(status byte) string {
	switch status {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("ERROR_CODE_0x%02X", status)
	}
}

// FormatFrame formats a command frame for logging
func FormatFrame(f Frame) string {
	return fmt.Sprintf("%s args=[%08X %08X %08X %08X] crc=%08X",
		f.ID, f.Args[0], f.Args[1], f.Args[2], f.Args[3], f.CRC)
}

// FormatHex formats bytes as a hex dump, 16 bytes per line
func FormatHex(data []byte) string {
	var s strings.Builder
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			s.WriteString("\n")
		} else if i > 0 {
			s.WriteString(" ")
		}
		fmt.Fprintf(&s, "%02X", b)
	}
	return s.String()
}

// FormatRevision formats a firmware revision word as major.minor.build
func FormatRevision(rev uint32) string {
	if rev == 0xFFFFFFFF {
		return "none"
	}
	return fmt.Sprintf("%d.%d.%d", rev>>24, (rev>>16)&0xFF, rev&0xFFFF)
}

// FormatHardwareFlags lists the set hardware status flags
func FormatHardwareFlags(flags uint32) string {
	names := []struct {
		bit  uint32
		name string
	}{
		{HardwareIntellivisionPowered, "POWERED"},
		{HardwareConsoleRunning, "RUNNING"},
		{HardwareNewErrorLog, "NEW_ERROR_LOG"},
		{HardwareNewCrashLog, "NEW_CRASH_LOG"},
	}
	parts := []string{}
	for _, n := range names {
		if flags&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// FormatDirtyFlags lists the set dirty flags
func FormatDirtyFlags(flags DirtyFlags) string {
	names := []struct {
		bit  uint32
		name string
	}{
		{DirtyGlobalDirectoryTable, "GDT"},
		{DirtyGlobalFileTable, "GFT"},
		{DirtyGlobalForkTable, "GKT"},
		{DirtyForkData, "FORK_DATA"},
	}
	parts := []string{}
	for _, n := range names {
		if flags.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "CLEAN"
	}
	return strings.Join(parts, "|")
}

// FormatDeviceStatus formats a Ping response
func FormatDeviceStatus(s DeviceStatus) string {
	result := fmt.Sprintf("  Unique ID: %s\n", s.UniqueIDString())
	result += fmt.Sprintf("  Hardware: %s (0x%08X)\n", FormatHardwareFlags(s.HardwareFlags), s.HardwareFlags)
	result += fmt.Sprintf("  Configuration: 0x%08X\n", s.ConfigurationFlags)
	return result
}

// FormatFileSystemStatistics formats an LFS_GET_STATISTICS response
func FormatFileSystemStatistics(s FileSystemStatistics) string {
	result := fmt.Sprintf("  Virtual blocks:  %d / %d available\n", s.VirtualBlocksAvailable, s.VirtualBlocksTotal)
	result += fmt.Sprintf("  Physical blocks: %d / %d available (%d clean)\n",
		s.PhysicalBlocksAvailable, s.PhysicalBlocksTotal, s.PhysicalBlocksClean)
	result += fmt.Sprintf("  Sector erasures: %d (metadata %d)\n", s.PhysicalSectorErasures, s.MetadataSectorErasures)
	result += fmt.Sprintf("  Map version:     %d\n", s.VirtualToPhysicalMapVer)
	return result
}

// FormatFirmwareRevisions formats a FIRMWARE_GET_REVISIONS response
func FormatFirmwareRevisions(r FirmwareRevisions) string {
	return fmt.Sprintf("  Primary: %s, Secondary: %s, Current: %s\n",
		FormatRevision(r.Primary), FormatRevision(r.Secondary), FormatRevision(r.Current))
}

// FormatErrorLog formats an error log
func FormatErrorLog(l ErrorLog) string {
	crc := "OK"
	if !l.Valid {
		crc = "BAD"
	}
	if len(l.Errors) == 0 {
		return fmt.Sprintf("  (no errors) CRC: %s\n", crc)
	}
	result := fmt.Sprintf("  %d errors, CRC: %s\n", len(l.Errors), crc)
	for i, id := range l.Errors {
		result += fmt.Sprintf("    %2d: 0x%04X\n", i, id)
	}
	return result
}

// FormatGlobalTables summarises the used slots of each table
func FormatGlobalTables(t *GlobalTables) string {
	dirs, files, forks := 0, 0, 0
	for _, d := range t.Directories {
		if d.InUse() {
			dirs++
		}
	}
	for _, f := range t.Files {
		if f.InUse() {
			files++
		}
	}
	for _, k := range t.Forks {
		if k.InUse() {
			forks++
		}
	}
	result := fmt.Sprintf("  Directories: %d / %d\n", dirs, len(t.Directories))
	result += fmt.Sprintf("  Files:       %d / %d\n", files, len(t.Files))
	result += fmt.Sprintf("  Forks:       %d / %d\n", forks, len(t.Forks))
	return result
}
