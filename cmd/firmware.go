// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Query and update cartridge firmware",
}

var firmwareRevisionsCmd = &cobra.Command{
	Use:   "revisions",
	Short: "Show installed firmware revisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, "Firmware Revisions", func(ctx context.Context, dev *device.Device) error {
			revisions, err := dev.FirmwareRevisions(ctx)
			if err != nil {
				return err
			}
			fmt.Print(locutus.FormatFirmwareRevisions(revisions))
			return nil
		})
	},
}

var firmwareUpdateCmd = &cobra.Command{
	Use:   "update <image>",
	Short: "Install a firmware image in the secondary slot",
	Long: `Upload a firmware image to RAM, have the cartridge validate it, then
erase the secondary slot and program the image into it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, "Firmware Update", func(ctx context.Context, dev *device.Device) error {
			return runFirmwareUpdate(ctx, dev, image)
		})
	},
}

func init() {
	rootCmd.AddCommand(firmwareCmd)
	firmwareCmd.AddCommand(firmwareRevisionsCmd, firmwareUpdateCmd)
}

func runFirmwareUpdate(ctx context.Context, dev *device.Device, image []byte) error {
	const address = 0
	length := uint32(len(image))

	if _, err := dev.UploadRAM(ctx, address, image, locutus.CRC24Initial); err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	fmt.Printf("Uploaded %d bytes\n", length)

	revision, err := dev.ValidateFirmwareImage(ctx, address, length)
	if err != nil {
		return fmt.Errorf("validate image: %w", err)
	}
	fmt.Printf("Image revision: %s\n", locutus.FormatRevision(revision))

	if err := dev.EraseSecondaryFirmware(ctx); err != nil {
		return fmt.Errorf("erase secondary: %w", err)
	}
	if err := dev.ProgramSecondaryFirmware(ctx, address, length); err != nil {
		return fmt.Errorf("program secondary: %w", err)
	}

	revisions, err := dev.FirmwareRevisions(ctx)
	if err != nil {
		return err
	}
	fmt.Print(locutus.FormatFirmwareRevisions(revisions))
	return nil
}
