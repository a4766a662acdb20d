// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Watch raw device output without sending commands",
	Long: `Listen to the link without sending any command frames.

Every byte received is classified as beacon output or noise and printed as
hex. Useful to check that a device announces itself after power-up or a
launch, and to look for line noise on a serial or bridged connection.

Exit codes:
  0 - Listened for the full duration
  1 - Connection failed while listening
  2 - Connection error`,
	RunE: runListenCmd,
}

var listenDuration time.Duration

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 30*time.Second, "How long to listen")
}

func runListenCmd(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("ltoctl - Listen\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %v\n\n", listenDuration)

	result, err := listen(conn, listenDuration, os.Stdout)
	conn.Close()

	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Bytes received: %d\n", result.Bytes)
	fmt.Printf("Beacons:        %d\n", result.Beacons)
	fmt.Printf("Noise bytes:    %d\n", result.Noise)
	if err != nil {
		fmt.Printf("Result: FAILED (%v)\n", err)
		os.Exit(1)
	}
	return nil
}

// listenResult summarises passively received output
type listenResult struct {
	Bytes   int
	Beacons int
	Noise   int
}

// listen reads from port until duration elapses or the link fails. Read
// timeouts are not failures; they print a heartbeat once per second.
func listen(port device.Port, duration time.Duration, out io.Writer) (listenResult, error) {
	var result listenResult
	matcher := locutus.NewAckMatcher()
	buf := make([]byte, 256)

	previous := port.ReadTimeout()
	defer port.SetReadTimeout(previous)

	end := time.Now().Add(duration)
	lastHeartbeat := time.Now()
	for {
		remaining := time.Until(end)
		if remaining <= 0 {
			break
		}
		if err := port.SetReadTimeout(min(remaining, time.Second)); err != nil {
			return result, err
		}
		n, err := port.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				matcher.ConsumeByte(b)
			}
			result.Bytes += n
			fmt.Fprintf(out, "[%s] %d bytes: %s\n", time.Now().Format("15:04:05.000"), n, locutus.FormatHex(buf[:n]))
		}
		if err != nil && !errors.Is(err, locutus.ErrTimeout) {
			result.Beacons, result.Noise = matcher.Beacons(), matcher.Noise()
			return result, err
		}
		if n == 0 && time.Since(lastHeartbeat) >= time.Second {
			lastHeartbeat = time.Now()
			fmt.Fprintf(out, "[%s] Still listening... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), time.Until(end).Seconds())
		}
	}

	result.Beacons, result.Noise = matcher.Beacons(), matcher.Noise()
	return result, nil
}
