// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the device and report its status",
	Long: `Send PING commands to the cartridge and report each response.

This is useful for verifying:
  - The connection is established
  - The cartridge answers with a valid CRC
  - Beacon output is skipped while waiting for the acknowledgement

Exit codes:
  0 - All pings successful
  1 - One or more pings failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	dev, conn, connInfo, err := OpenDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("ltoctl - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx := cmd.Context()
	failCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		status, err := dev.Ping(ctx)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("device %s, hardware=%s, rtt=%v\n",
				status.UniqueIDString(),
				locutus.FormatHardwareFlags(status.HardwareFlags),
				time.Since(start).Round(time.Microsecond))
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	stats := dev.Statistics()
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d succeeded, %.0f%% loss\n",
		pingCount, pingCount-failCount, float64(failCount)/float64(max(pingCount, 1))*100)
	if verbose {
		fmt.Print(stats.String())
	}

	if failCount > 0 {
		conn.Close()
		os.Exit(1)
	}
	return nil
}
