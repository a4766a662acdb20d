// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
)

var launchCmd = &cobra.Command{
	Use:   "launch <rom>",
	Short: "Download a ROM image and run it",
	Long: `Send a ROM image to the cartridge and start it on the console.

The cartridge restarts once the image is running and announces itself with
a beacon before it accepts further commands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rom, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, "Launch", func(ctx context.Context, dev *device.Device) error {
			if err := dev.DownloadAndLaunch(ctx, rom); err != nil {
				return err
			}
			fmt.Printf("Launched %s (%d bytes)\n", args[0], len(rom))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(launchCmd)
}
