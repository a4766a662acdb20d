// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var (
	tablesOut  string
	tablesList bool
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Download the file system tables",
	Long: `Download the global directory, file and fork tables.

A summary of used slots is printed. --list prints every used entry and
--out writes the decoded tables to a CBOR file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, "File System Tables", runTables)
	},
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.Flags().StringVarP(&tablesOut, "out", "o", "", "Write the tables to a CBOR file")
	tablesCmd.Flags().BoolVar(&tablesList, "list", false, "List every used entry")
}

func runTables(ctx context.Context, dev *device.Device) error {
	tables, err := dev.GlobalTables(ctx)
	if err != nil {
		return err
	}

	fmt.Print(locutus.FormatGlobalTables(tables))

	if tablesList {
		printTables(tables)
	}

	if tablesOut != "" {
		data, err := cbor.Marshal(tables)
		if err != nil {
			return fmt.Errorf("failed to encode tables: %w", err)
		}
		if err := os.WriteFile(tablesOut, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("\nWrote %d bytes to %s\n", len(data), tablesOut)
	}
	return nil
}

func printTables(t *locutus.GlobalTables) {
	for _, d := range t.Directories {
		if !d.InUse() {
			continue
		}
		used := 0
		for _, f := range d.Files {
			if f != locutus.InvalidIndex {
				used++
			}
		}
		fmt.Printf("  DIR  %4d parent=%d files=%d\n", d.Index, d.ParentFile, used)
	}
	for _, f := range t.Files {
		if !f.InUse() {
			continue
		}
		fmt.Printf("  FILE %4d type=%d color=%d parent=%d forks=%v\n",
			f.Index, f.Type, f.Color, f.ParentDirectory, f.Forks)
	}
	for _, k := range t.Forks {
		if !k.InUse() {
			continue
		}
		fmt.Printf("  FORK %4d block=%d size=%d crc24=%06X\n", k.Index, k.StartBlock, k.Size, k.CRC24)
	}
}

var tablesRestoreAddress string

var tablesRestoreCmd = &cobra.Command{
	Use:   "restore <file.cbor>",
	Short: "Write tables saved with --out back to the device",
	Long: `Write the used entries of a CBOR table file back to the device.

Entries are packed into RAM blocks of consecutive indices, uploaded, and
committed with the matching table update command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var tables locutus.GlobalTables
		if err := cbor.Unmarshal(data, &tables); err != nil {
			return fmt.Errorf("failed to decode tables: %w", err)
		}
		address, err := parseUint32(tablesRestoreAddress)
		if err != nil {
			return err
		}
		return withDevice(cmd, "Restore Tables", func(ctx context.Context, dev *device.Device) error {
			return restoreTables(ctx, dev, &tables, address)
		})
	},
}

func init() {
	tablesCmd.AddCommand(tablesRestoreCmd)
	tablesRestoreCmd.Flags().StringVar(&tablesRestoreAddress, "address", "0", "RAM address used for the transfer")
}

func restoreTables(ctx context.Context, dev *device.Device, t *locutus.GlobalTables, address uint32) error {
	forks := usedEntries(t.Forks, locutus.Fork.InUse)
	files := usedEntries(t.Files, locutus.File.InUse)
	dirs := usedEntries(t.Directories, locutus.Directory.InUse)

	if err := dev.UpdateForks(ctx, forks, address); err != nil {
		return fmt.Errorf("restore forks: %w", err)
	}
	if err := dev.UpdateFiles(ctx, files, address); err != nil {
		return fmt.Errorf("restore files: %w", err)
	}
	if err := dev.UpdateDirectories(ctx, dirs, address); err != nil {
		return fmt.Errorf("restore directories: %w", err)
	}
	fmt.Printf("Restored %d directories, %d files, %d forks\n", len(dirs), len(files), len(forks))
	return nil
}

func usedEntries[T any](entries []T, inUse func(T) bool) []T {
	used := make([]T, 0, len(entries))
	for _, e := range entries {
		if inUse(e) {
			used = append(used, e)
		}
	}
	return used
}
