// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"cmp"
	"slices"
)

// EntryBlock is a run of table entries with consecutive global indices,
// uploaded to one contiguous RAM region.
type EntryBlock[T TableEntry] struct {
	BaseIndex int
	Address   uint32
	Entries   []T
}

// Size returns the number of RAM bytes the block occupies
func (b EntryBlock[T]) Size() int {
	size := 0
	for _, e := range b.Entries {
		size += e.UpdateSize()
	}
	return size
}

// PlanBlocks partitions entries into the fewest contiguous blocks that fit
// in device RAM, starting at address.
//
// An entry joins the current block when its global index follows the
// previous one, the block still fits in RAM, and the block size so far is
// even. Otherwise a new block starts right after the current one (rounded up
// to a word boundary) or, when that would not fit, at address 0. Callers must
// consume each block before a later one can reuse the same RAM.
func PlanBlocks[T TableEntry](entries []T, address uint32) ([]EntryBlock[T], error) {
	if len(entries) == 0 {
		return nil, nil
	}

	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp.Compare(a.GlobalIndex(), b.GlobalIndex())
	})

	first := sorted[0]
	if err := validateBlock("", address, blockLength(first.UpdateSize())); err != nil {
		return nil, err
	}

	blocks := []EntryBlock[T]{}
	current := EntryBlock[T]{BaseIndex: first.GlobalIndex(), Address: address, Entries: []T{first}}
	size := first.UpdateSize()
	previous := first.GlobalIndex()

	for _, entry := range sorted[1:] {
		n := entry.UpdateSize()
		contiguous := entry.GlobalIndex() == previous+1
		fits := uint64(current.Address)+uint64(size)+uint64(n) <= TotalRAMSize
		aligned := size%2 == 0
		previous = entry.GlobalIndex()

		if contiguous && fits && aligned {
			current.Entries = append(current.Entries, entry)
			size += n
			continue
		}

		blocks = append(blocks, current)

		var next uint32
		if fits {
			next = current.Address + uint32(size)
			if next&1 != 0 {
				next++
			}
			if uint64(next)+uint64(n) > TotalRAMSize {
				next = 0
			}
		}
		if err := validateBlock("", next, blockLength(n)); err != nil {
			return nil, err
		}

		current = EntryBlock[T]{BaseIndex: entry.GlobalIndex(), Address: next, Entries: []T{entry}}
		size = n
	}

	return append(blocks, current), nil
}
