// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"encoding/binary"
	"fmt"
)

// Table entry sizes as stored in device RAM and flash
const (
	DirectorySize          = 2 + MaxDirectoryEntries*2 // 512
	FileSize               = 8 + MaxForksPerFile*2     // 20
	ForkSize               = 12
	GlobalTablesHeaderSize = 8
)

// TableEntry is a global directory, file or fork table entry
type TableEntry interface {
	// GlobalIndex is the entry's position in its global table
	GlobalIndex() int
	// UpdateSize is the number of bytes the entry occupies in RAM
	UpdateSize() int
}

// Directory is a GDT entry
type Directory struct {
	Index      uint16                      `cbor:"0,keyasint"`
	ParentFile uint16                      `cbor:"1,keyasint"`
	Files      [MaxDirectoryEntries]uint16 `cbor:"2,keyasint"`
}

func (d Directory) GlobalIndex() int { return int(d.Index) }
func (d Directory) UpdateSize() int  { return DirectorySize }

// InUse reports whether the slot holds a directory
func (d Directory) InUse() bool { return d.ParentFile != InvalidIndex }

// Bytes encodes the directory
func (d Directory) Bytes() []byte {
	b := make([]byte, DirectorySize)
	binary.LittleEndian.PutUint16(b[0:], d.ParentFile)
	for i, f := range d.Files {
		binary.LittleEndian.PutUint16(b[2+i*2:], f)
	}
	return b
}

// ParseDirectory decodes a directory entry stored at global index
func ParseDirectory(index uint16, b []byte) Directory {
	d := Directory{Index: index, ParentFile: binary.LittleEndian.Uint16(b[0:])}
	for i := range d.Files {
		d.Files[i] = binary.LittleEndian.Uint16(b[2+i*2:])
	}
	return d
}

// File is a GFT entry
type File struct {
	Index           uint16                  `cbor:"0,keyasint"`
	Type            uint8                   `cbor:"1,keyasint"`
	Color           uint8                   `cbor:"2,keyasint"`
	ParentDirectory uint16                  `cbor:"3,keyasint"`
	OwnDirectory    uint16                  `cbor:"4,keyasint"`
	Forks           [MaxForksPerFile]uint16 `cbor:"5,keyasint"`
}

func (f File) GlobalIndex() int { return int(f.Index) }
func (f File) UpdateSize() int  { return FileSize }

// InUse reports whether the slot holds a file
func (f File) InUse() bool { return f.Type != 0xFF }

// Bytes encodes the file entry
func (f File) Bytes() []byte {
	b := make([]byte, FileSize)
	b[0] = f.Type
	b[1] = f.Color
	binary.LittleEndian.PutUint16(b[2:], f.ParentDirectory)
	binary.LittleEndian.PutUint16(b[4:], f.OwnDirectory)
	binary.LittleEndian.PutUint16(b[6:], InvalidIndex)
	for i, k := range f.Forks {
		binary.LittleEndian.PutUint16(b[8+i*2:], k)
	}
	return b
}

// ParseFile decodes a file entry stored at global index
func ParseFile(index uint16, b []byte) File {
	f := File{
		Index:           index,
		Type:            b[0],
		Color:           b[1],
		ParentDirectory: binary.LittleEndian.Uint16(b[2:]),
		OwnDirectory:    binary.LittleEndian.Uint16(b[4:]),
	}
	for i := range f.Forks {
		f.Forks[i] = binary.LittleEndian.Uint16(b[8+i*2:])
	}
	return f
}

// Fork is a GKT entry
type Fork struct {
	Index      uint16 `cbor:"0,keyasint"`
	StartBlock uint16 `cbor:"1,keyasint"`
	Size       uint32 `cbor:"2,keyasint"`
	CRC24      uint32 `cbor:"3,keyasint"`
}

func (k Fork) GlobalIndex() int { return int(k.Index) }
func (k Fork) UpdateSize() int  { return ForkSize }

// InUse reports whether the slot holds a fork
func (k Fork) InUse() bool { return k.StartBlock != InvalidIndex }

// Bytes encodes the fork entry
func (k Fork) Bytes() []byte {
	b := make([]byte, ForkSize)
	binary.LittleEndian.PutUint16(b[0:], k.StartBlock)
	binary.LittleEndian.PutUint16(b[2:], InvalidIndex)
	binary.LittleEndian.PutUint32(b[4:], k.Size)
	binary.LittleEndian.PutUint32(b[8:], k.CRC24)
	return b
}

// ParseFork decodes a fork entry stored at global index
func ParseFork(index uint16, b []byte) Fork {
	return Fork{
		Index:      index,
		StartBlock: binary.LittleEndian.Uint16(b[0:]),
		Size:       binary.LittleEndian.Uint32(b[4:]),
		CRC24:      binary.LittleEndian.Uint32(b[8:]),
	}
}

// GlobalTables holds the device's directory, file and fork tables
type GlobalTables struct {
	Directories []Directory `cbor:"0,keyasint"`
	Files       []File      `cbor:"1,keyasint"`
	Forks       []Fork      `cbor:"2,keyasint"`
}

// GlobalTablesSize returns the full payload size announced by a tables header
func GlobalTablesSize(header []byte) (int, error) {
	if len(header) < GlobalTablesHeaderSize {
		return 0, fmt.Errorf("global tables header too short: %d bytes", len(header))
	}
	dirs := int(binary.LittleEndian.Uint16(header[0:]))
	files := int(binary.LittleEndian.Uint16(header[2:]))
	forks := int(binary.LittleEndian.Uint16(header[4:]))
	return GlobalTablesHeaderSize + dirs*DirectorySize + files*FileSize + forks*ForkSize, nil
}

// ParseGlobalTables decodes an LFS_DOWNLOAD_GLOBAL_TABLES payload
func ParseGlobalTables(data []byte) (*GlobalTables, error) {
	size, err := GlobalTablesSize(data)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, fmt.Errorf("global tables truncated: %d bytes (expected %d)", len(data), size)
	}

	dirs := int(binary.LittleEndian.Uint16(data[0:]))
	files := int(binary.LittleEndian.Uint16(data[2:]))
	forks := int(binary.LittleEndian.Uint16(data[4:]))

	t := &GlobalTables{
		Directories: make([]Directory, 0, dirs),
		Files:       make([]File, 0, files),
		Forks:       make([]Fork, 0, forks),
	}
	offset := GlobalTablesHeaderSize
	for i := 0; i < dirs; i++ {
		t.Directories = append(t.Directories, ParseDirectory(uint16(i), data[offset:]))
		offset += DirectorySize
	}
	for i := 0; i < files; i++ {
		t.Files = append(t.Files, ParseFile(uint16(i), data[offset:]))
		offset += FileSize
	}
	for i := 0; i < forks; i++ {
		t.Forks = append(t.Forks, ParseFork(uint16(i), data[offset:]))
		offset += ForkSize
	}
	return t, nil
}

// Bytes encodes the tables as the device sends them. Entries are written in
// slice order; their Index fields are not stored.
func (t *GlobalTables) Bytes() []byte {
	size := GlobalTablesHeaderSize + len(t.Directories)*DirectorySize + len(t.Files)*FileSize + len(t.Forks)*ForkSize
	b := make([]byte, GlobalTablesHeaderSize, size)
	binary.LittleEndian.PutUint16(b[0:], uint16(len(t.Directories)))
	binary.LittleEndian.PutUint16(b[2:], uint16(len(t.Files)))
	binary.LittleEndian.PutUint16(b[4:], uint16(len(t.Forks)))
	for _, d := range t.Directories {
		b = append(b, d.Bytes()...)
	}
	for _, f := range t.Files {
		b = append(b, f.Bytes()...)
	}
	for _, k := range t.Forks {
		b = append(b, k.Bytes()...)
	}
	return b
}
