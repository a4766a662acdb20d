// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"errors"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, defaulting to 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// sizedEntry is a table entry with an arbitrary RAM size
type sizedEntry struct {
	index int
	size  int
}

func (e sizedEntry) GlobalIndex() int { return e.index }
func (e sizedEntry) UpdateSize() int  { return e.size }

// randomEntries returns n entries with distinct indices in shuffled order
func randomEntries(rng *rand.Rand, n, maxSize int) []sizedEntry {
	indices := rng.Perm(n * 3)[:n]
	entries := make([]sizedEntry, n)
	for i, idx := range indices {
		entries[i] = sizedEntry{index: idx, size: 1 + rng.Intn(maxSize)}
	}
	return entries
}

// ============================================================
// Block Planner Tests
// ============================================================

func forks(indices ...int) []Fork {
	out := make([]Fork, len(indices))
	for i, idx := range indices {
		out[i] = Fork{Index: uint16(idx)}
	}
	return out
}

func TestPlanBlocks_Empty(t *testing.T) {
	blocks, err := PlanBlocks([]Fork{}, 0)
	if err != nil || len(blocks) != 0 {
		t.Errorf("expected no blocks, got %v (err=%v)", blocks, err)
	}
}

func TestPlanBlocks_Contiguous(t *testing.T) {
	blocks, err := PlanBlocks(forks(3, 1, 2, 0), 0x100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(blocks))
	}
	b := blocks[0]
	if b.BaseIndex != 0 || b.Address != 0x100 || b.Size() != 4*ForkSize {
		t.Errorf("unexpected block: base=%d address=0x%X size=%d", b.BaseIndex, b.Address, b.Size())
	}
	for i, e := range b.Entries {
		if e.GlobalIndex() != i {
			t.Errorf("entry %d out of order: index %d", i, e.GlobalIndex())
		}
	}
}

func TestPlanBlocks_Gap(t *testing.T) {
	blocks, err := PlanBlocks(forks(0, 1, 5, 6), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected two blocks, got %d", len(blocks))
	}
	if blocks[1].BaseIndex != 5 || blocks[1].Address != 2*ForkSize {
		t.Errorf("second block: base=%d address=0x%X", blocks[1].BaseIndex, blocks[1].Address)
	}
}

func TestPlanBlocks_WrapsToZero(t *testing.T) {
	dirs := make([]Directory, 129)
	for i := range dirs {
		dirs[i].Index = uint16(i)
	}
	blocks, err := PlanBlocks(dirs, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected two blocks, got %d", len(blocks))
	}
	if blocks[0].Size() != TotalRAMSize || len(blocks[0].Entries) != 128 {
		t.Errorf("first block should fill RAM: %d entries, %d bytes", len(blocks[0].Entries), blocks[0].Size())
	}
	if blocks[1].Address != 0 || blocks[1].BaseIndex != 128 {
		t.Errorf("second block should restart at 0: base=%d address=0x%X", blocks[1].BaseIndex, blocks[1].Address)
	}
}

func TestPlanBlocks_OddSizeRealigns(t *testing.T) {
	entries := []sizedEntry{{0, 3}, {1, 4}, {2, 4}}
	blocks, err := PlanBlocks(entries, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected two blocks, got %d", len(blocks))
	}
	if blocks[1].Address != 4 {
		t.Errorf("expected second block at word boundary 4, got 0x%X", blocks[1].Address)
	}
}

func TestPlanBlocks_InvalidAddress(t *testing.T) {
	if _, err := PlanBlocks(forks(0), TotalRAMSize-4); !errors.Is(err, ErrInsufficientMemory) {
		t.Errorf("expected ErrInsufficientMemory, got %v", err)
	}
	if _, err := PlanBlocks(forks(0), 3); !errors.Is(err, ErrDataMisaligned) {
		t.Errorf("expected ErrDataMisaligned, got %v", err)
	}
}

func TestFuzz_PlanBlocks(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		entries := randomEntries(rng, 1+rng.Intn(200), 1+rng.Intn(1024))
		address := uint32(rng.Intn((TotalRAMSize-1024)/2)) * 2

		blocks, err := PlanBlocks(entries, address)
		if err != nil {
			t.Fatalf("Round %d: unexpected error: %v", round, err)
		}

		seen := map[int]bool{}
		last := -1
		for bi, b := range blocks {
			if b.Address&1 != 0 {
				t.Fatalf("Round %d block %d: misaligned address 0x%X", round, bi, b.Address)
			}
			if int(b.Address)+b.Size() > TotalRAMSize {
				t.Fatalf("Round %d block %d: 0x%X+%d exceeds RAM", round, bi, b.Address, b.Size())
			}
			if len(b.Entries) == 0 || b.Entries[0].GlobalIndex() != b.BaseIndex {
				t.Fatalf("Round %d block %d: base index %d does not match first entry", round, bi, b.BaseIndex)
			}
			for i, e := range b.Entries {
				if e.GlobalIndex() != b.BaseIndex+i {
					t.Fatalf("Round %d block %d: index %d not contiguous", round, bi, e.GlobalIndex())
				}
				if e.GlobalIndex() <= last {
					t.Fatalf("Round %d block %d: index %d out of order", round, bi, e.GlobalIndex())
				}
				last = e.GlobalIndex()
				seen[e.GlobalIndex()] = true
			}
		}

		if len(seen) != len(entries) {
			t.Fatalf("Round %d: planned %d entries, expected %d", round, len(seen), len(entries))
		}
		for _, e := range entries {
			if !seen[e.index] {
				t.Fatalf("Round %d: entry %d missing from plan", round, e.index)
			}
		}
	}
}

// ============================================================
// Frame and CRC Fuzz Tests
// ============================================================

func TestFuzz_FrameRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	ids := make([]CommandID, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for round := 0; round < rounds; round++ {
		id := ids[rng.Intn(len(ids))]
		cmd := newCommand(id, rng.Uint32(), rng.Uint32(), rng.Uint32(), rng.Uint32())
		frame := cmd.Serialize()

		f, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("Round %d: decode failed: %v", round, err)
		}
		if f.ID != id || f.Args != cmd.Args() {
			t.Fatalf("Round %d: round trip mismatch: %s", round, FormatFrame(f))
		}

		pos := rng.Intn(FrameSize)
		frame[pos] ^= byte(1 << rng.Intn(8))
		if _, err := DecodeFrame(frame); err == nil {
			t.Fatalf("Round %d: corrupted byte %d not detected", round, pos)
		}
	}
}

func TestFuzz_CRC24Chaining(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		data := make([]byte, 1+rng.Intn(512))
		rng.Read(data)

		crc := uint32(CRC24Initial)
		for rest := data; len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			crc = UpdateCRC24(crc, rest[:n])
			rest = rest[n:]
		}
		if crc != CalculateCRC24(data) {
			t.Fatalf("Round %d: chained CRC-24 0x%06X != 0x%06X", round, crc, CalculateCRC24(data))
		}
	}
}

func TestFuzz_AckMatcher(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		m := NewAckMatcher()
		beacons := rng.Intn(10)
		var stream []byte
		for i := 0; i < beacons; i++ {
			stream = append(stream, Beacon...)
		}
		terminal := byte(Ack)
		if rng.Intn(2) == 0 {
			terminal = Nak
		}
		stream = append(stream, terminal)

		result := feed(m, stream)
		if (terminal == Ack && result != AckReceived) || (terminal == Nak && result != NakReceived) {
			t.Fatalf("Round %d: expected terminal 0x%02X, got %s", round, terminal, result)
		}
		if m.Beacons() != beacons || m.Consumed() != len(stream) {
			t.Fatalf("Round %d: beacons %d/%d consumed %d/%d",
				round, m.Beacons(), beacons, m.Consumed(), len(stream))
		}
	}
}
