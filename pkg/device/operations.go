// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package device

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// Typed operations. Unlike Execute, these fold protocol failures into the
// returned error; the *locutus.Error carries the failure detail.

// run executes cmd and returns its payload when it succeeded
func (d *Device) run(ctx context.Context, cmd locutus.Command) ([]byte, error) {
	resp, err := d.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Succeeded {
		return nil, resp.Failure
	}
	return resp.Payload, nil
}

// runChecked builds a command and runs it, passing construction errors through
func (d *Device) runChecked(ctx context.Context, cmd locutus.Command, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return d.run(ctx, cmd)
}

// Ping queries the device status
func (d *Device) Ping(ctx context.Context) (locutus.DeviceStatus, error) {
	payload, err := d.run(ctx, locutus.NewPing())
	if err != nil {
		return locutus.DeviceStatus{}, err
	}
	return locutus.ParseDeviceStatus(payload)
}

// GarbageCollect compacts the file system
func (d *Device) GarbageCollect(ctx context.Context) error {
	_, err := d.run(ctx, locutus.NewGarbageCollect())
	return err
}

// DownloadAndLaunch sends a ROM image and starts it on the console. The
// device restarts afterwards; the next command waits for its beacon.
func (d *Device) DownloadAndLaunch(ctx context.Context, rom []byte) error {
	cmd, err := locutus.NewDownloadAndLaunch(rom)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// SetConfiguration writes the device configuration flags
func (d *Device) SetConfiguration(ctx context.Context, flags uint64) error {
	_, err := d.run(ctx, locutus.NewSetConfiguration(flags))
	return err
}

// ErrorLog downloads the firmware error log
func (d *Device) ErrorLog(ctx context.Context) (locutus.ErrorLog, error) {
	payload, err := d.run(ctx, locutus.NewDownloadErrorLog())
	if err != nil {
		return locutus.ErrorLog{}, err
	}
	return locutus.ParseErrorLog(payload)
}

// CrashLog downloads the firmware crash record
func (d *Device) CrashLog(ctx context.Context) (locutus.CrashLog, error) {
	payload, err := d.run(ctx, locutus.NewDownloadCrashLog())
	if err != nil {
		return locutus.CrashLog{}, err
	}
	return locutus.ParseCrashLog(payload)
}

// EraseCrashLog clears the crash record
func (d *Device) EraseCrashLog(ctx context.Context) error {
	_, err := d.run(ctx, locutus.NewEraseCrashLog())
	return err
}

// FileSystemStatistics queries flash usage
func (d *Device) FileSystemStatistics(ctx context.Context) (locutus.FileSystemStatistics, error) {
	payload, err := d.run(ctx, locutus.NewGetFileSystemStatistics())
	if err != nil {
		return locutus.FileSystemStatistics{}, err
	}
	return locutus.ParseFileSystemStatistics(payload)
}

// DirtyFlags reports which file system structures have pending changes
func (d *Device) DirtyFlags(ctx context.Context) (locutus.DirtyFlags, error) {
	payload, err := d.run(ctx, locutus.NewGetDirtyFlags())
	if err != nil {
		return 0, err
	}
	return locutus.ParseDirtyFlags(payload)
}

// GlobalTables downloads the directory, file and fork tables
func (d *Device) GlobalTables(ctx context.Context) (*locutus.GlobalTables, error) {
	payload, err := d.run(ctx, locutus.NewDownloadFileSystemTables())
	if err != nil {
		return nil, err
	}
	return locutus.ParseGlobalTables(payload)
}

// UploadRAM writes data to device RAM at address. runningCRC24 is continued
// over data and the result returned, so consecutive uploads can be chained.
func (d *Device) UploadRAM(ctx context.Context, address uint32, data []byte, runningCRC24 uint32) (uint32, error) {
	cmd, err := locutus.NewUploadDataBlockToRam(address, data, runningCRC24)
	if _, err := d.runChecked(ctx, cmd, err); err != nil {
		return runningCRC24, err
	}
	return cmd.RunningCRC24(), nil
}

// DownloadRAM reads length bytes of device RAM at address
func (d *Device) DownloadRAM(ctx context.Context, address, length uint32) ([]byte, error) {
	cmd, err := locutus.NewDownloadDataBlockFromRam(address, length)
	return d.runChecked(ctx, cmd, err)
}

// ChecksumRAM returns the device-computed CRC32 of a RAM block
func (d *Device) ChecksumRAM(ctx context.Context, address, length uint32) (uint32, error) {
	cmd, err := locutus.NewChecksumDataBlockInRam(address, length)
	payload, err := d.runChecked(ctx, cmd, err)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// CreateFork stores the fork data already in RAM at address as fork.Index
func (d *Device) CreateFork(ctx context.Context, address uint32, fork locutus.Fork) error {
	cmd, err := locutus.NewCreateForkFromRam(address, fork)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// StoreFork uploads data to RAM at address and creates fork index from it.
// The returned Fork carries the size and CRC-24 sent to the device.
func (d *Device) StoreFork(ctx context.Context, address uint32, index uint16, data []byte) (locutus.Fork, error) {
	crc, err := d.UploadRAM(ctx, address, data, locutus.CRC24Initial)
	if err != nil {
		return locutus.Fork{}, fmt.Errorf("upload fork %d: %w", index, err)
	}
	fork := locutus.Fork{Index: index, Size: uint32(len(data)), CRC24: crc}
	if err := d.CreateFork(ctx, address, fork); err != nil {
		return locutus.Fork{}, err
	}
	return fork, nil
}

// ReadForkToRam copies length bytes at offset within a fork into RAM at address
func (d *Device) ReadForkToRam(ctx context.Context, address uint32, fork uint16, offset, length uint32) error {
	cmd, err := locutus.NewReadForkToRam(address, fork, offset, length)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// DeleteFork removes a fork
func (d *Device) DeleteFork(ctx context.Context, fork uint16) error {
	cmd, err := locutus.NewDeleteFork(fork)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// DeleteFile removes a file entry
func (d *Device) DeleteFile(ctx context.Context, file uint16) error {
	cmd, err := locutus.NewDeleteFile(file)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// DeleteDirectory removes a directory entry
func (d *Device) DeleteDirectory(ctx context.Context, directory uint16) error {
	cmd, err := locutus.NewDeleteDirectory(directory)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// Reformat erases the whole file system
func (d *Device) Reformat(ctx context.Context) error {
	_, err := d.run(ctx, locutus.NewReformat())
	return err
}

// FirmwareRevisions queries the installed firmware versions
func (d *Device) FirmwareRevisions(ctx context.Context) (locutus.FirmwareRevisions, error) {
	payload, err := d.run(ctx, locutus.NewQueryFirmwareRevisions())
	if err != nil {
		return locutus.FirmwareRevisions{}, err
	}
	return locutus.ParseFirmwareRevisions(payload)
}

// ValidateFirmwareImage checks a firmware image in RAM and returns its revision
func (d *Device) ValidateFirmwareImage(ctx context.Context, address, length uint32) (uint32, error) {
	cmd, err := locutus.NewValidateFirmwareImageInRam(address, length)
	payload, err := d.runChecked(ctx, cmd, err)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// EraseSecondaryFirmware erases the secondary firmware slot
func (d *Device) EraseSecondaryFirmware(ctx context.Context) error {
	_, err := d.run(ctx, locutus.NewEraseSecondaryFirmware())
	return err
}

// ProgramSecondaryFirmware writes the validated image in RAM to the secondary slot
func (d *Device) ProgramSecondaryFirmware(ctx context.Context, address, length uint32) error {
	cmd, err := locutus.NewProgramSecondaryFirmware(address, length)
	_, err = d.runChecked(ctx, cmd, err)
	return err
}

// UpdateDirectories writes directory entries to the global directory table
func (d *Device) UpdateDirectories(ctx context.Context, entries []locutus.Directory, address uint32) error {
	return UpdateTables(ctx, d, entries, address, locutus.NewUpdateGlobalDirectoryTable)
}

// UpdateFiles writes file entries to the global file table
func (d *Device) UpdateFiles(ctx context.Context, entries []locutus.File, address uint32) error {
	return UpdateTables(ctx, d, entries, address, locutus.NewUpdateGlobalFileTable)
}

// UpdateForks writes fork entries to the global fork table
func (d *Device) UpdateForks(ctx context.Context, entries []locutus.Fork, address uint32) error {
	return UpdateTables(ctx, d, entries, address, locutus.NewUpdateGlobalForkTable)
}

// TableUpdateFunc builds the command that commits a RAM block to a global table
type TableUpdateFunc func(address uint32, base, count uint16) (locutus.Command, error)

type serializable interface {
	locutus.TableEntry
	Bytes() []byte
}

// UpdateTables plans entries into RAM blocks starting at address, then for
// each block uploads the serialized entries and commits them with update.
// The whole plan is validated before anything is sent.
func UpdateTables[T serializable](ctx context.Context, d *Device, entries []T, address uint32, update TableUpdateFunc) error {
	blocks, err := locutus.PlanBlocks(entries, address)
	if err != nil {
		return err
	}

	commits := make([]locutus.Command, len(blocks))
	for i, block := range blocks {
		if commits[i], err = update(block.Address, uint16(block.BaseIndex), uint16(len(block.Entries))); err != nil {
			return err
		}
	}

	for i, block := range blocks {
		data := make([]byte, 0, block.Size())
		for _, e := range block.Entries {
			data = append(data, e.Bytes()...)
		}
		if _, err := d.UploadRAM(ctx, block.Address, data, locutus.CRC24Initial); err != nil {
			return fmt.Errorf("upload entries %d-%d: %w", block.BaseIndex, block.BaseIndex+len(block.Entries)-1, err)
		}
		if _, err := d.run(ctx, commits[i]); err != nil {
			return err
		}
	}
	return nil
}
