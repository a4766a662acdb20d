// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package simulator

import (
	"encoding/binary"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// dispatch runs one decoded frame
func (s *Simulator) dispatch(f locutus.Frame) {
	s.current = f
	switch {
	case s.silentNext > 0:
		s.silentNext--
		return
	case s.dropped():
		s.Logf("simulator: dropped %s", f.ID)
		return
	case s.nakNext > 0:
		s.nakNext--
		s.nak()
		return
	case !f.ID.Known():
		s.Logf("simulator: unknown command 0x%02X", uint8(f.ID))
		s.nak()
		return
	}

	st := s.state
	args := f.Args

	// Commands that take a payload are acknowledged now and finished when the
	// payload has arrived
	switch f.ID {
	case locutus.CmdDownloadAndPlay:
		if args[0] == 0 || args[0] > maxROMSize {
			s.nak()
			return
		}
		s.acknowledge()
		s.pending = &f
		return

	case locutus.CmdLfsUploadDataBlockToRam:
		if locutus.ValidateDataBlockSizeAndAddress(args[0], args[1]) != nil {
			s.nak()
			return
		}
		s.acknowledge()
		s.pending = &f
		return
	}

	s.acknowledge()

	switch f.ID {
	case locutus.CmdPing:
		status := locutus.DeviceStatus{
			HardwareFlags:      st.HardwareFlags,
			ConfigurationFlags: st.ConfigurationFlags,
			UniqueID:           st.UniqueID,
		}
		s.succeed(status.Bytes())

	case locutus.CmdGarbageCollect:
		st.Dirty = 0
		s.succeed(nil)

	case locutus.CmdSetConfiguration:
		st.ConfigurationFlags = args[0]
		s.succeed(nil)

	case locutus.CmdDownloadErrorLog:
		st.HardwareFlags &^= locutus.HardwareNewErrorLog
		s.succeed(locutus.EncodeErrorLog(st.ErrorLog))

	case locutus.CmdDownloadCrashLog:
		s.succeed(locutus.EncodeCrashLog(st.CrashLog))

	case locutus.CmdEraseCrashLog:
		st.CrashLog = nil
		st.HardwareFlags &^= locutus.HardwareNewCrashLog
		s.succeed(nil)

	case locutus.CmdLfsGetStatistics:
		s.succeed(st.statistics().Bytes())

	case locutus.CmdLfsGetFileSystemStatusFlags:
		var b [locutus.DirtyFlagsSize]byte
		binary.LittleEndian.PutUint32(b[:], st.Dirty)
		s.succeed(b[:])

	case locutus.CmdLfsDownloadGlobalTables:
		s.succeed(st.Tables.Bytes())

	case locutus.CmdLfsDownloadDataBlockFromRam:
		if locutus.ValidateDataBlockSizeAndAddress(args[0], args[1]) != nil {
			s.fail("bad RAM block 0x%X+%d", args[0], args[1])
			return
		}
		s.succeed(append([]byte(nil), st.RAM[args[0]:args[0]+args[1]]...))

	case locutus.CmdLfsChecksumDataBlockInRam:
		if locutus.ValidateDataBlockSizeAndAddress(args[0], args[1]) != nil {
			s.fail("bad RAM block 0x%X+%d", args[0], args[1])
			return
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], locutus.CalculateCRC(st.RAM[args[0]:args[0]+args[1]]))
		s.succeed(b[:])

	case locutus.CmdLfsUpdateGdtFromRam:
		s.updateTable(args, locutus.DirectorySize, locutus.DirtyGlobalDirectoryTable, func(index uint16, b []byte) {
			st.growDirectories(int(index))
			st.Tables.Directories[index] = locutus.ParseDirectory(index, b)
		})

	case locutus.CmdLfsUpdateGftFromRam:
		s.updateTable(args, locutus.FileSize, locutus.DirtyGlobalFileTable, func(index uint16, b []byte) {
			st.growFiles(int(index))
			st.Tables.Files[index] = locutus.ParseFile(index, b)
		})

	case locutus.CmdLfsUpdateGktFromRam:
		s.updateTable(args, locutus.ForkSize, locutus.DirtyGlobalForkTable, func(index uint16, b []byte) {
			st.growForks(int(index))
			st.Tables.Forks[index] = locutus.ParseFork(index, b)
		})

	case locutus.CmdLfsCreateForkFromRam:
		s.createFork(args)

	case locutus.CmdLfsCopyForkToRam:
		s.copyForkToRam(args)

	case locutus.CmdLfsDeleteFork:
		index := int(args[0])
		if index >= len(st.Tables.Forks) || !st.Tables.Forks[index].InUse() {
			s.fail("fork %d not in use", index)
			return
		}
		st.Tables.Forks[index] = emptyFork(uint16(index))
		delete(st.ForkData, uint16(index))
		st.Dirty |= locutus.DirtyGlobalForkTable | locutus.DirtyForkData
		s.succeed(nil)

	case locutus.CmdLfsDeleteFile:
		index := int(args[0])
		if index >= len(st.Tables.Files) || !st.Tables.Files[index].InUse() {
			s.fail("file %d not in use", index)
			return
		}
		st.Tables.Files[index] = emptyFile(uint16(index))
		st.Dirty |= locutus.DirtyGlobalFileTable
		s.succeed(nil)

	case locutus.CmdLfsDeleteDirectory:
		index := int(args[0])
		if index >= len(st.Tables.Directories) || !st.Tables.Directories[index].InUse() {
			s.fail("directory %d not in use", index)
			return
		}
		st.Tables.Directories[index] = emptyDirectory(uint16(index))
		st.Dirty |= locutus.DirtyGlobalDirectoryTable
		s.succeed(nil)

	case locutus.CmdLfsReformatFileSystem:
		if args[0] != locutus.ReformatMagic {
			s.fail("reformat without magic")
			return
		}
		st.format()
		s.succeed(nil)

	case locutus.CmdFirmwareGetRevisions:
		s.succeed(st.Revisions.Bytes())

	case locutus.CmdFirmwareValidateImageInRam:
		revision, ok := s.firmwareImage(args)
		if !ok {
			s.fail("invalid firmware image")
			return
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], revision)
		s.succeed(b[:])

	case locutus.CmdFirmwareEraseSecondary:
		st.Revisions.Secondary = locutus.UnusedArg
		s.succeed(nil)

	case locutus.CmdFirmwareProgramSecondary:
		revision, ok := s.firmwareImage(args)
		if !ok || st.Revisions.Secondary != locutus.UnusedArg {
			s.fail("cannot program secondary firmware")
			return
		}
		st.Revisions.Secondary = revision
		s.succeed(nil)

	case locutus.CmdDebugSetHardwareStatus:
		st.HardwareFlags = args[0]
		s.succeed(nil)

	case locutus.CmdDebugRandomDropConnection:
		if args[0] > 100 {
			s.fail("drop percentage %d", args[0])
			return
		}
		s.dropPercent = int(args[0])
		s.succeed(nil)
	}
}

// maxROMSize bounds DOWNLOAD_AND_PLAY images
const maxROMSize = 2 * 1024 * 1024

// completePayload finishes a command once its payload has arrived
func (s *Simulator) completePayload(f locutus.Frame, payload []byte) {
	s.current = f
	st := s.state
	switch f.ID {
	case locutus.CmdDownloadAndPlay:
		if locutus.CalculateCRC(payload) != f.Args[1] {
			s.fail("ROM CRC mismatch")
			return
		}
		st.HardwareFlags |= locutus.HardwareConsoleRunning
		s.succeed(nil)
		// the device restarts into the game and announces itself
		s.out.WriteString(locutus.Beacon)

	case locutus.CmdLfsUploadDataBlockToRam:
		copy(st.RAM[f.Args[0]:], payload)
		s.succeed(nil)
	}
}

// updateTable copies count entries of size bytes from RAM into a table
func (s *Simulator) updateTable(args [locutus.ArgCount]uint32, size int, dirty uint32, store func(uint16, []byte)) {
	address, base, count := args[0], args[1], args[2]
	length := count * uint32(size)
	if base >= locutus.InvalidIndex || base+count > locutus.InvalidIndex ||
		locutus.ValidateDataBlockSizeAndAddress(address, length) != nil {
		s.fail("bad table update base %d count %d at 0x%X", base, count, address)
		return
	}
	for i := uint32(0); i < count; i++ {
		offset := address + i*uint32(size)
		store(uint16(base+i), s.state.RAM[offset:offset+uint32(size)])
	}
	s.state.Dirty |= dirty
	s.succeed(nil)
}

func (s *Simulator) createFork(args [locutus.ArgCount]uint32) {
	st := s.state
	address, size, index, crc := args[0], args[1], args[2], args[3]
	if index >= locutus.InvalidIndex || locutus.ValidateDataBlockSizeAndAddress(address, size) != nil {
		s.fail("bad fork %d", index)
		return
	}
	data := st.RAM[address : address+size]
	if got := locutus.CalculateCRC24(data); got != crc {
		s.fail("fork %d CRC-24 mismatch: expected 0x%06X, got 0x%06X", index, crc, got)
		return
	}

	st.growForks(int(index))
	st.ForkData[uint16(index)] = append([]byte(nil), data...)
	st.Tables.Forks[index] = locutus.Fork{
		Index:      uint16(index),
		StartBlock: st.NextBlock,
		Size:       size,
		CRC24:      crc,
	}
	st.NextBlock += uint16((size + BlockSize - 1) / BlockSize)
	st.Dirty |= locutus.DirtyGlobalForkTable | locutus.DirtyForkData
	s.succeed(nil)
}

func (s *Simulator) copyForkToRam(args [locutus.ArgCount]uint32) {
	st := s.state
	address, index, offset, length := args[0], uint16(args[1]), args[2], args[3]
	data, ok := st.ForkData[index]
	if !ok {
		s.fail("fork %d not in use", index)
		return
	}
	if locutus.ValidateDataBlockSizeAndAddress(address, length) != nil ||
		uint64(offset)+uint64(length) > uint64(len(data)) {
		s.fail("bad fork %d read %d+%d", index, offset, length)
		return
	}
	copy(st.RAM[address:], data[offset:offset+length])
	s.succeed(nil)
}

// firmwareImage checks an image in RAM: a revision word, the body, and a
// trailing CRC32 over everything before it.
func (s *Simulator) firmwareImage(args [locutus.ArgCount]uint32) (uint32, bool) {
	address, length := args[0], args[1]
	if length < 8 || locutus.ValidateDataBlockSizeAndAddress(address, length) != nil {
		return 0, false
	}
	image := s.state.RAM[address : address+length]
	body := image[:length-locutus.CRCSize]
	if locutus.CalculateCRC(body) != binary.LittleEndian.Uint32(image[length-locutus.CRCSize:]) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body), true
}
