// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device, file system and firmware status",
	Long: `Query the cartridge for its status, file system statistics, pending
file system changes and installed firmware revisions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, "Device Status", runStatus)
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run file system garbage collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, "Garbage Collect", func(ctx context.Context, dev *device.Device) error {
			if err := dev.GarbageCollect(ctx); err != nil {
				return err
			}
			fmt.Println("Garbage collection complete")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gcCmd)
}

func runStatus(ctx context.Context, dev *device.Device) error {
	status, err := dev.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Print(locutus.FormatDeviceStatus(status))
	fmt.Println()

	stats, err := dev.FileSystemStatistics(ctx)
	if err != nil {
		return err
	}
	fmt.Print(locutus.FormatFileSystemStatistics(stats))
	fmt.Println()

	dirty, err := dev.DirtyFlags(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Pending changes: %s\n\n", locutus.FormatDirtyFlags(dirty))

	revisions, err := dev.FirmwareRevisions(ctx)
	if err != nil {
		return err
	}
	fmt.Print(locutus.FormatFirmwareRevisions(revisions))
	return nil
}
