// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var ramOut string

var ramCmd = &cobra.Command{
	Use:   "ram",
	Short: "Read, write and checksum device RAM",
	Long: `Move data through the cartridge's 64 KiB transfer RAM.

Addresses and lengths accept decimal or 0x-prefixed hex. Blocks must lie
inside RAM and start on an even address.`,
}

var ramReadCmd = &cobra.Command{
	Use:   "read <address> <length>",
	Short: "Read a RAM block",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, length, err := parseBlock(args[0], args[1])
		if err != nil {
			return err
		}
		return withDevice(cmd, "RAM Read", func(ctx context.Context, dev *device.Device) error {
			data, err := dev.DownloadRAM(ctx, address, length)
			if err != nil {
				return err
			}
			if ramOut != "" {
				if err := os.WriteFile(ramOut, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %d bytes to %s\n", len(data), ramOut)
				return nil
			}
			fmt.Println(locutus.FormatHex(data))
			return nil
		})
	},
}

var ramChecksumCmd = &cobra.Command{
	Use:   "checksum <address> <length>",
	Short: "Compute the CRC32 of a RAM block on the device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, length, err := parseBlock(args[0], args[1])
		if err != nil {
			return err
		}
		return withDevice(cmd, "RAM Checksum", func(ctx context.Context, dev *device.Device) error {
			crc, err := dev.ChecksumRAM(ctx, address, length)
			if err != nil {
				return err
			}
			fmt.Printf("CRC32 of 0x%05X+%d: 0x%08X\n", address, length, crc)
			return nil
		})
	},
}

var ramWriteCmd = &cobra.Command{
	Use:   "write <address> <file>",
	Short: "Upload a file to RAM and verify it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint32(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		// reject before connecting
		if err := locutus.ValidateDataBlockSizeAndAddress(address, uint32(min(len(data), locutus.TotalRAMSize+1))); err != nil {
			return err
		}
		return withDevice(cmd, "RAM Write", func(ctx context.Context, dev *device.Device) error {
			crc24, err := dev.UploadRAM(ctx, address, data, locutus.CRC24Initial)
			if err != nil {
				return err
			}
			crc, err := dev.ChecksumRAM(ctx, address, uint32(len(data)))
			if err != nil {
				return err
			}
			if want := locutus.CalculateCRC(data); crc != want {
				return fmt.Errorf("verify failed: device CRC32 0x%08X, expected 0x%08X", crc, want)
			}
			fmt.Printf("Uploaded %d bytes to 0x%05X (CRC-24 0x%06X, verified)\n", len(data), address, crc24)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ramCmd)
	ramCmd.AddCommand(ramReadCmd, ramChecksumCmd, ramWriteCmd)
	ramReadCmd.Flags().StringVarP(&ramOut, "out", "o", "", "Write the block to a file instead of printing it")
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseBlock(addressArg, lengthArg string) (uint32, uint32, error) {
	address, err := parseUint32(addressArg)
	if err != nil {
		return 0, 0, err
	}
	length, err := parseUint32(lengthArg)
	if err != nil {
		return 0, 0, err
	}
	return address, length, nil
}
