// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package simulator

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// Simulated flash geometry
const (
	BlockSize           = 4096
	VirtualBlocksTotal  = 1024
	PhysicalBlocksTotal = 1152
)

// DefaultRevision is reported for the primary and current firmware
const DefaultRevision = 0x01020000 // 1.2.0

// State is the persistent part of a simulated device: everything a real
// device keeps in flash, plus RAM.
type State struct {
	HardwareFlags      uint32                     `cbor:"0,keyasint"`
	ConfigurationFlags uint32                     `cbor:"1,keyasint"`
	UniqueID           [locutus.UniqueIDSize]byte `cbor:"2,keyasint"`
	RAM                []byte                     `cbor:"3,keyasint"`
	Tables             locutus.GlobalTables       `cbor:"4,keyasint"`
	ForkData           map[uint16][]byte          `cbor:"5,keyasint"`
	ErrorLog           []uint16                   `cbor:"6,keyasint"`
	CrashLog           []byte                     `cbor:"7,keyasint,omitempty"`
	Revisions          locutus.FirmwareRevisions  `cbor:"8,keyasint"`
	Dirty              uint32                     `cbor:"9,keyasint"`
	SectorErasures     uint32                     `cbor:"10,keyasint"`
	NextBlock          uint16                     `cbor:"11,keyasint"`
}

// NewState returns a freshly formatted device
func NewState() *State {
	s := &State{
		RAM: make([]byte, locutus.TotalRAMSize),
		Revisions: locutus.FirmwareRevisions{
			Primary:   DefaultRevision,
			Secondary: locutus.UnusedArg,
			Current:   DefaultRevision,
		},
		ForkData: map[uint16][]byte{},
	}
	for i := range s.UniqueID {
		s.UniqueID[i] = byte(0xA0 + i)
	}
	s.format()
	return s
}

// format clears the file system
func (s *State) format() {
	s.Tables = locutus.GlobalTables{}
	s.ForkData = map[uint16][]byte{}
	s.Dirty = 0
	s.NextBlock = 0
	s.SectorErasures++
}

// Snapshot encodes the state as CBOR
func (s *State) Snapshot() ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode simulator state: %w", err)
	}
	return data, nil
}

// LoadState decodes a CBOR snapshot
func LoadState(data []byte) (*State, error) {
	var s State
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode simulator state: %w", err)
	}
	if len(s.RAM) != locutus.TotalRAMSize {
		return nil, fmt.Errorf("snapshot RAM is %d bytes (expected %d)", len(s.RAM), locutus.TotalRAMSize)
	}
	if s.ForkData == nil {
		s.ForkData = map[uint16][]byte{}
	}
	return &s, nil
}

// statistics derives the file system statistics from the stored forks
func (s *State) statistics() locutus.FileSystemStatistics {
	var used uint32
	for _, data := range s.ForkData {
		used += uint32((len(data) + BlockSize - 1) / BlockSize)
	}
	if used > VirtualBlocksTotal {
		used = VirtualBlocksTotal
	}
	return locutus.FileSystemStatistics{
		VirtualBlocksAvailable:  VirtualBlocksTotal - used,
		VirtualBlocksTotal:      VirtualBlocksTotal,
		PhysicalBlocksAvailable: PhysicalBlocksTotal - used,
		PhysicalBlocksClean:     PhysicalBlocksTotal - used,
		PhysicalBlocksTotal:     PhysicalBlocksTotal,
		PhysicalSectorErasures:  s.SectorErasures,
		MetadataSectorErasures:  s.SectorErasures,
		VirtualToPhysicalMapVer: 1,
	}
}

func emptyDirectory(index uint16) locutus.Directory {
	d := locutus.Directory{Index: index, ParentFile: locutus.InvalidIndex}
	for i := range d.Files {
		d.Files[i] = locutus.InvalidIndex
	}
	return d
}

func emptyFile(index uint16) locutus.File {
	f := locutus.File{
		Index:           index,
		Type:            0xFF,
		Color:           0xFF,
		ParentDirectory: locutus.InvalidIndex,
		OwnDirectory:    locutus.InvalidIndex,
	}
	for i := range f.Forks {
		f.Forks[i] = locutus.InvalidIndex
	}
	return f
}

func emptyFork(index uint16) locutus.Fork {
	return locutus.Fork{Index: index, StartBlock: locutus.InvalidIndex}
}

// growDirectories makes sure index n exists
func (s *State) growDirectories(n int) {
	for len(s.Tables.Directories) <= n {
		s.Tables.Directories = append(s.Tables.Directories, emptyDirectory(uint16(len(s.Tables.Directories))))
	}
}

func (s *State) growFiles(n int) {
	for len(s.Tables.Files) <= n {
		s.Tables.Files = append(s.Tables.Files, emptyFile(uint16(len(s.Tables.Files))))
	}
}

func (s *State) growForks(n int) {
	for len(s.Tables.Forks) <= n {
		s.Tables.Forks = append(s.Tables.Forks, emptyFork(uint16(len(s.Tables.Forks))))
	}
}
