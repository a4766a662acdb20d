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

var crashLogErase bool

var errorLogCmd = &cobra.Command{
	Use:   "errorlog",
	Short: "Download the firmware error log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, "Error Log", func(ctx context.Context, dev *device.Device) error {
			log, err := dev.ErrorLog(ctx)
			if err != nil {
				return err
			}
			fmt.Print(locutus.FormatErrorLog(log))
			return nil
		})
	},
}

var crashLogCmd = &cobra.Command{
	Use:   "crashlog",
	Short: "Download (and optionally erase) the firmware crash log",
	Long: `Download the crash record the firmware keeps after a fault.

With --erase the record is cleared once it has been downloaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, "Crash Log", runCrashLog)
	},
}

func init() {
	rootCmd.AddCommand(errorLogCmd)
	rootCmd.AddCommand(crashLogCmd)
	crashLogCmd.Flags().BoolVar(&crashLogErase, "erase", false, "Erase the crash log after downloading it")
}

func runCrashLog(ctx context.Context, dev *device.Device) error {
	crash, err := dev.CrashLog(ctx)
	if err != nil {
		return err
	}

	if crash.Empty() {
		fmt.Println("No crash recorded")
	} else {
		status := "OK"
		if !crash.Valid {
			status = "BAD"
		}
		fmt.Printf("Crash record (%d bytes, CRC %s):\n", len(crash.Data), status)
		fmt.Println(locutus.FormatHex(crash.Data))
	}

	if crashLogErase {
		if err := dev.EraseCrashLog(ctx); err != nil {
			return err
		}
		fmt.Println("Crash log erased")
	}
	return nil
}
