// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

// Command builder functions. Parameterized commands validate their
// arguments here, before anything is written to a device.

// NewPing creates a PING command (0x00). The device answers with its status.
func NewPing() Command {
	return newCommand(CmdPing)
}

// NewGarbageCollect creates a GARBAGE_COLLECT command (0x01)
func NewGarbageCollect() Command {
	return newCommand(CmdGarbageCollect)
}

// NewDownloadAndLaunch creates a DOWNLOAD_AND_PLAY command (0x02).
// The ROM image is sent after the device acknowledges the frame and the
// console starts it once the transfer completes.
func NewDownloadAndLaunch(rom []byte) (Command, error) {
	const op = "DOWNLOAD_AND_PLAY"
	if len(rom) == 0 {
		return Command{}, validationError(op, ErrArgumentOutOfRange, "ROM image is empty")
	}
	c := newCommand(CmdDownloadAndPlay, uint32(len(rom)), CalculateCRC(rom))
	c.payload = rom
	return c, nil
}

// NewSetConfiguration creates a SET_CONFIGURATION command (0x03)
func NewSetConfiguration(flags uint64) Command {
	return newCommand(CmdSetConfiguration, uint32(flags), uint32(flags>>32))
}

// NewDownloadErrorLog creates a DOWNLOAD_ERROR_LOG command (0x04)
func NewDownloadErrorLog() Command {
	return newCommand(CmdDownloadErrorLog)
}

// NewDownloadCrashLog creates a DOWNLOAD_CRASH_LOG command (0x05)
func NewDownloadCrashLog() Command {
	return newCommand(CmdDownloadCrashLog)
}

// NewEraseCrashLog creates an ERASE_CRASH_LOG command (0x06)
func NewEraseCrashLog() Command {
	return newCommand(CmdEraseCrashLog)
}

// NewGetFileSystemStatistics creates an LFS_GET_STATISTICS command (0x10)
func NewGetFileSystemStatistics() Command {
	return newCommand(CmdLfsGetStatistics)
}

// NewGetDirtyFlags creates an LFS_GET_STATUS_FLAGS command (0x11)
func NewGetDirtyFlags() Command {
	return newCommand(CmdLfsGetFileSystemStatusFlags)
}

// NewDownloadFileSystemTables creates an LFS_DOWNLOAD_GLOBAL_TABLES command (0x13)
func NewDownloadFileSystemTables() Command {
	return newCommand(CmdLfsDownloadGlobalTables)
}

// NewUploadDataBlockToRam creates an LFS_UPLOAD_DATA_BLOCK_TO_RAM command (0x14).
// runningCRC24 is continued over data; the result is sent as the third
// argument and returned by RunningCRC24 for chaining the next upload.
func NewUploadDataBlockToRam(address uint32, data []byte, runningCRC24 uint32) (Command, error) {
	const op = "LFS_UPLOAD_DATA_BLOCK_TO_RAM"
	if err := validateBlock(op, address, blockLength(len(data))); err != nil {
		return Command{}, err
	}
	crc := UpdateCRC24(runningCRC24, data)
	c := newCommand(CmdLfsUploadDataBlockToRam, address, uint32(len(data)), crc)
	c.payload = data
	c.crc24 = crc
	return c, nil
}

// NewDownloadDataBlockFromRam creates an LFS_DOWNLOAD_DATA_BLOCK_FROM_RAM command (0x15)
func NewDownloadDataBlockFromRam(address, length uint32) (Command, error) {
	const op = "LFS_DOWNLOAD_DATA_BLOCK_FROM_RAM"
	if err := validateBlock(op, address, length); err != nil {
		return Command{}, err
	}
	c := newCommand(CmdLfsDownloadDataBlockFromRam, address, length)
	c.responseSize = int(length)
	return c, nil
}

// NewChecksumDataBlockInRam creates an LFS_CHECKSUM_DATA_BLOCK_IN_RAM command (0x16).
// The device answers with the CRC32 of the block.
func NewChecksumDataBlockInRam(address, length uint32) (Command, error) {
	const op = "LFS_CHECKSUM_DATA_BLOCK_IN_RAM"
	if err := validateBlock(op, address, length); err != nil {
		return Command{}, err
	}
	return newCommand(CmdLfsChecksumDataBlockInRam, address, length), nil
}

// NewUpdateGlobalDirectoryTable creates an LFS_UPDATE_GDT_FROM_RAM command (0x17).
// count directories starting at global index base are read from address.
func NewUpdateGlobalDirectoryTable(address uint32, base, count uint16) (Command, error) {
	return newTableUpdate(CmdLfsUpdateGdtFromRam, address, base, count, DirectorySize)
}

// NewUpdateGlobalFileTable creates an LFS_UPDATE_GFT_FROM_RAM command (0x18)
func NewUpdateGlobalFileTable(address uint32, base, count uint16) (Command, error) {
	return newTableUpdate(CmdLfsUpdateGftFromRam, address, base, count, FileSize)
}

// NewUpdateGlobalForkTable creates an LFS_UPDATE_GKT_FROM_RAM command (0x1B)
func NewUpdateGlobalForkTable(address uint32, base, count uint16) (Command, error) {
	return newTableUpdate(CmdLfsUpdateGktFromRam, address, base, count, ForkSize)
}

func newTableUpdate(id CommandID, address uint32, base, count uint16, entrySize int) (Command, error) {
	op := FormatCommandName(id)
	if base == InvalidIndex {
		return Command{}, validationError(op, ErrArgumentOutOfRange, "invalid base index")
	}
	if err := validateBlock(op, address, uint32(count)*uint32(entrySize)); err != nil {
		return Command{}, err
	}
	return newCommand(id, address, uint32(base), uint32(count)), nil
}

// NewCreateForkFromRam creates an LFS_CREATE_FORK_FROM_RAM command (0x19).
// The fork's data must already be in RAM at address.
func NewCreateForkFromRam(address uint32, fork Fork) (Command, error) {
	const op = "LFS_CREATE_FORK_FROM_RAM"
	if err := validateBlock(op, address, fork.Size); err != nil {
		return Command{}, err
	}
	return newCommand(CmdLfsCreateForkFromRam, address, fork.Size, uint32(fork.Index), fork.CRC24), nil
}

// NewReadForkToRam creates an LFS_COPY_FORK_TO_RAM command (0x1A).
// length bytes starting at offset within the fork are copied to address.
func NewReadForkToRam(address uint32, fork uint16, offset, length uint32) (Command, error) {
	const op = "LFS_COPY_FORK_TO_RAM"
	if fork == InvalidIndex {
		return Command{}, validationError(op, ErrArgumentOutOfRange, "invalid fork index")
	}
	if err := validateBlock(op, address, length); err != nil {
		return Command{}, err
	}
	return newCommand(CmdLfsCopyForkToRam, address, uint32(fork), offset, length), nil
}

// NewDeleteFork creates an LFS_DELETE_FORK command (0x1C)
func NewDeleteFork(fork uint16) (Command, error) {
	return newDelete(CmdLfsDeleteFork, fork)
}

// NewDeleteFile creates an LFS_DELETE_FILE command (0x1D)
func NewDeleteFile(file uint16) (Command, error) {
	return newDelete(CmdLfsDeleteFile, file)
}

// NewDeleteDirectory creates an LFS_DELETE_DIRECTORY command (0x1E)
func NewDeleteDirectory(directory uint16) (Command, error) {
	return newDelete(CmdLfsDeleteDirectory, directory)
}

func newDelete(id CommandID, index uint16) (Command, error) {
	if index == InvalidIndex {
		return Command{}, validationError(FormatCommandName(id), ErrArgumentOutOfRange, "invalid global index")
	}
	return newCommand(id, uint32(index)), nil
}

// NewReformat creates an LFS_REFORMAT_FILE_SYSTEM command (0x1F).
// Erases the whole file system.
func NewReformat() Command {
	return newCommand(CmdLfsReformatFileSystem, ReformatMagic)
}

// NewQueryFirmwareRevisions creates a FIRMWARE_GET_REVISIONS command (0x20)
func NewQueryFirmwareRevisions() Command {
	return newCommand(CmdFirmwareGetRevisions)
}

// NewValidateFirmwareImageInRam creates a FIRMWARE_VALIDATE_IMAGE_IN_RAM command (0x21).
// The device answers with the revision of the image.
func NewValidateFirmwareImageInRam(address, length uint32) (Command, error) {
	const op = "FIRMWARE_VALIDATE_IMAGE_IN_RAM"
	if err := validateBlock(op, address, length); err != nil {
		return Command{}, err
	}
	return newCommand(CmdFirmwareValidateImageInRam, address, length), nil
}

// NewEraseSecondaryFirmware creates a FIRMWARE_ERASE_SECONDARY command (0x22)
func NewEraseSecondaryFirmware() Command {
	return newCommand(CmdFirmwareEraseSecondary)
}

// NewProgramSecondaryFirmware creates a FIRMWARE_PROGRAM_SECONDARY command (0x23)
func NewProgramSecondaryFirmware(address, length uint32) (Command, error) {
	const op = "FIRMWARE_PROGRAM_SECONDARY"
	if err := validateBlock(op, address, length); err != nil {
		return Command{}, err
	}
	return newCommand(CmdFirmwareProgramSecondary, address, length), nil
}

// blockLength converts a slice length for validation, saturating above RAM size
func blockLength(n int) uint32 {
	if n > TotalRAMSize {
		return TotalRAMSize + 1
	}
	return uint32(n)
}
