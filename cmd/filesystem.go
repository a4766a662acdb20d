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

var (
	reformatConfirm bool
	forkAddress     string
)

var deleteCmd = &cobra.Command{
	Use:       "delete <fork|file|dir> <index>",
	Short:     "Delete a fork, file or directory entry",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"fork", "file", "dir"},
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[1], err)
		}

		var del func(*device.Device, context.Context, uint16) error
		switch args[0] {
		case "fork":
			del = (*device.Device).DeleteFork
		case "file":
			del = (*device.Device).DeleteFile
		case "dir", "directory":
			del = (*device.Device).DeleteDirectory
		default:
			return fmt.Errorf("unknown entry kind %q (use fork, file or dir)", args[0])
		}

		return withDevice(cmd, "Delete", func(ctx context.Context, dev *device.Device) error {
			if err := del(dev, ctx, uint16(index)); err != nil {
				return err
			}
			fmt.Printf("Deleted %s %d\n", args[0], index)
			return nil
		})
	},
}

var forkCmd = &cobra.Command{
	Use:   "fork",
	Short: "Store and read fork data",
}

var forkStoreCmd = &cobra.Command{
	Use:   "store <index> <file>",
	Short: "Upload a file and store it as a fork",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[0], err)
		}
		address, err := parseUint32(forkAddress)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		return withDevice(cmd, "Store Fork", func(ctx context.Context, dev *device.Device) error {
			fork, err := dev.StoreFork(ctx, address, uint16(index), data)
			if err != nil {
				return err
			}
			fmt.Printf("Stored fork %d: %d bytes, CRC-24 0x%06X\n", fork.Index, fork.Size, fork.CRC24)
			return nil
		})
	},
}

var forkReadCmd = &cobra.Command{
	Use:   "read <index> <offset> <length>",
	Short: "Copy part of a fork into RAM and print it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[0], err)
		}
		offset, length, err := parseBlock(args[1], args[2])
		if err != nil {
			return err
		}
		address, err := parseUint32(forkAddress)
		if err != nil {
			return err
		}
		return withDevice(cmd, "Read Fork", func(ctx context.Context, dev *device.Device) error {
			if err := dev.ReadForkToRam(ctx, address, uint16(index), offset, length); err != nil {
				return err
			}
			data, err := dev.DownloadRAM(ctx, address, length)
			if err != nil {
				return err
			}
			fmt.Println(locutus.FormatHex(data))
			return nil
		})
	},
}

var reformatCmd = &cobra.Command{
	Use:   "reformat",
	Short: "Erase the entire file system",
	Long: `Erase every directory, file and fork on the cartridge.

This cannot be undone. --yes is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !reformatConfirm {
			return fmt.Errorf("refusing to reformat without --yes")
		}
		return withDevice(cmd, "Reformat", func(ctx context.Context, dev *device.Device) error {
			if err := dev.Reformat(ctx); err != nil {
				return err
			}
			fmt.Println("File system reformatted")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(forkCmd)
	rootCmd.AddCommand(reformatCmd)
	forkCmd.AddCommand(forkStoreCmd, forkReadCmd)
	forkCmd.PersistentFlags().StringVar(&forkAddress, "address", "0", "RAM address used for the transfer")
	reformatCmd.Flags().BoolVar(&reformatConfirm, "yes", false, "Confirm erasing the file system")
}
