// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ltoflash/ltoctl/pkg/locutus"
	"github.com/ltoflash/ltoctl/pkg/simulator"
)

func newTestDevice(t *testing.T, simOpts []simulator.Option, opts ...Option) (*Device, *simulator.Simulator) {
	t.Helper()
	sim := simulator.New(simOpts...)
	opts = append([]Option{WithBeaconTimeout(10 * time.Millisecond)}, opts...)
	return New(sim, opts...), sim
}

// brokenPort fails every write
type brokenPort struct {
	*simulator.Simulator
}

func (brokenPort) Write(p []byte) (int, error) {
	return 0, errors.New("device unplugged")
}

// ============================================================
// Engine Tests
// ============================================================

func TestNew_NilPortPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil port")
		}
	}()
	New(nil)
}

func TestPing(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	status, err := dev.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if id := status.UniqueIDString(); id != "A0A1A2A3A4A5A6A7A8A9AAABACADAEAF" {
		t.Errorf("unexpected unique id: %s", id)
	}

	frames := sim.Frames()
	if len(frames) != 1 || frames[0].ID != locutus.CmdPing {
		t.Errorf("expected one PING frame, got %v", frames)
	}
	if sim.Pending() != 0 {
		t.Errorf("%d response bytes left unread", sim.Pending())
	}

	stats := dev.Statistics()
	if stats.Commands != 1 || stats.Succeeded != 1 || stats.Acks != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
	if stats.BytesSent != locutus.FrameSize {
		t.Errorf("expected %d bytes sent, got %d", locutus.FrameSize, stats.BytesSent)
	}
	if stats.BytesReceived != 1+locutus.DeviceStatusSize+1+locutus.CRCSize {
		t.Errorf("unexpected bytes received: %d", stats.BytesReceived)
	}
}

func TestExecute_Nak(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.NakNext(1)

	resp, err := dev.Execute(context.Background(), locutus.NewGetDirtyFlags())
	if err != nil {
		t.Fatalf("NAK should not be a transport error: %v", err)
	}
	if resp.Succeeded || resp.Acknowledged || resp.TimedOut || !resp.Nak() {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Detail, "NAK") {
		t.Errorf("detail does not mention NAK: %q", resp.Detail)
	}
	if !errors.Is(resp.Failure, locutus.ErrNAK) || !locutus.IsKind(resp.Failure, locutus.KindProtocol) {
		t.Errorf("unexpected failure: %v", resp.Failure)
	}
	if dev.LastErrorDetail() != resp.Detail {
		t.Errorf("last error detail not recorded: %q", dev.LastErrorDetail())
	}
	if sim.Pending() != 0 {
		t.Errorf("beacon after NAK not consumed: %d bytes pending", sim.Pending())
	}
	if stats := dev.Statistics(); stats.Naks != 1 || stats.Failures() != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}

	if _, err := dev.Ping(context.Background()); err != nil {
		t.Errorf("ping after NAK failed: %v", err)
	}
}

func TestExecute_AckTimeout(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.SilenceNext(1)

	resp, err := dev.Execute(context.Background(), locutus.NewPing())
	if err != nil {
		t.Fatalf("missing ACK should not be a transport error: %v", err)
	}
	if !resp.TimedOut || resp.Nak() || resp.Succeeded {
		t.Errorf("expected virtual NAK with timeout flag: %+v", resp)
	}
	if !errors.Is(resp.Failure, locutus.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", resp.Failure)
	}
	if stats := dev.Statistics(); stats.AckTimeouts != 1 || stats.Naks != 0 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
}

func TestExecute_NoiseUsesAttempts(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.Inject(bytes.Repeat([]byte{0x01}, locutus.AckReadAttempts))

	resp, err := dev.Execute(context.Background(), locutus.NewPing())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.TimedOut {
		t.Errorf("expected attempts to run out on noise: %+v", resp)
	}
	if stats := dev.Statistics(); stats.NoiseBytes != locutus.AckReadAttempts {
		t.Errorf("expected %d noise bytes, got %d", locutus.AckReadAttempts, stats.NoiseBytes)
	}
	if !strings.Contains(resp.Detail, "unexpected byte 0x01") {
		t.Errorf("detail does not carry the matcher diagnostics: %q", resp.Detail)
	}
}

func TestExecute_SomeNoiseTolerated(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.Inject([]byte{0x01, 0x02})

	if _, err := dev.Ping(context.Background()); err != nil {
		t.Fatalf("ping after noise failed: %v", err)
	}
	if stats := dev.Statistics(); stats.NoiseBytes != 2 {
		t.Errorf("expected 2 noise bytes, got %d", stats.NoiseBytes)
	}
}

func TestExecute_BeaconsBeforeAck(t *testing.T) {
	dev, _ := newTestDevice(t, []simulator.Option{simulator.WithBeacons(3)})

	if _, err := dev.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	stats := dev.Statistics()
	if stats.BeaconBytes != 3*uint64(len(locutus.Beacon)) {
		t.Errorf("expected %d beacon bytes, got %d", 3*len(locutus.Beacon), stats.BeaconBytes)
	}
	if stats.NoiseBytes != 0 {
		t.Errorf("expected no noise, got %d", stats.NoiseBytes)
	}
}

func TestExecute_CorruptResponse(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.CorruptNext(1)

	_, err := dev.Ping(context.Background())
	if !errors.Is(err, locutus.ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if stats := dev.Statistics(); stats.CRCErrors != 1 {
		t.Errorf("expected 1 CRC error, got %d", stats.CRCErrors)
	}
	if _, err := dev.Ping(context.Background()); err != nil {
		t.Errorf("ping after CRC error failed: %v", err)
	}
}

func TestExecute_ErrorStatus(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	resp, err := dev.Execute(context.Background(), mustCommand(locutus.NewDeleteFork(7)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Succeeded || !resp.Acknowledged || resp.Status != locutus.StatusError {
		t.Errorf("expected acknowledged error status: %+v", resp)
	}
	if !errors.Is(resp.Failure, locutus.ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", resp.Failure)
	}
	if sim.Pending() != 0 {
		t.Errorf("beacon after error status not consumed: %d bytes pending", sim.Pending())
	}
	if stats := dev.Statistics(); stats.StatusErrors != 1 {
		t.Errorf("expected 1 status error, got %d", stats.StatusErrors)
	}
}

func TestExecute_TransportError(t *testing.T) {
	dev := New(brokenPort{simulator.New()})

	resp, err := dev.Execute(context.Background(), locutus.NewPing())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !locutus.IsKind(err, locutus.KindTransport) {
		t.Errorf("expected transport kind, got %v", err)
	}
	if !strings.Contains(err.Error(), "device unplugged") {
		t.Errorf("root cause lost: %v", err)
	}
	if resp == nil || resp.Nak() || resp.Succeeded {
		t.Errorf("unexpected response: %+v", resp)
	}
	if stats := dev.Statistics(); stats.TransportErrors != 1 {
		t.Errorf("expected 1 transport error, got %d", stats.TransportErrors)
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dev.Execute(ctx, locutus.NewPing())
	if !errors.Is(err, context.Canceled) || !locutus.IsKind(err, locutus.KindTransport) {
		t.Errorf("expected cancelled transport error, got %v", err)
	}
	if len(sim.Writes()) != 0 {
		t.Errorf("bytes written after cancel: %v", sim.Writes())
	}
}

func TestExecute_RestoresTimeouts(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.SetReadTimeout(123 * time.Millisecond)
	sim.SetWriteTimeout(456 * time.Millisecond)

	if _, err := dev.UploadRAM(context.Background(), 0, make([]byte, 64), locutus.CRC24Initial); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if sim.ReadTimeout() != 123*time.Millisecond || sim.WriteTimeout() != 456*time.Millisecond {
		t.Errorf("timeouts not restored: read=%v write=%v", sim.ReadTimeout(), sim.WriteTimeout())
	}

	sim.NakNext(1)
	dev.Execute(context.Background(), locutus.NewGetDirtyFlags())
	if sim.ReadTimeout() != 123*time.Millisecond || sim.WriteTimeout() != 456*time.Millisecond {
		t.Errorf("timeouts not restored after NAK: read=%v write=%v", sim.ReadTimeout(), sim.WriteTimeout())
	}
}

func TestExecute_ChunkedPayload(t *testing.T) {
	dev, sim := newTestDevice(t, nil, WithWriteChunkSize(64))

	if _, err := dev.UploadRAM(context.Background(), 0, make([]byte, 200), locutus.CRC24Initial); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	want := []int{locutus.FrameSize, 64, 64, 64, 8}
	got := sim.Writes()
	if len(got) != len(want) {
		t.Fatalf("expected writes %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: expected %d bytes, got %d", i, want[i], got[i])
		}
	}
}

func TestExecute_CommandChunkSizeWins(t *testing.T) {
	dev, sim := newTestDevice(t, nil, WithWriteChunkSize(64))

	cmd := mustCommand(locutus.NewUploadDataBlockToRam(0, make([]byte, 100), locutus.CRC24Initial))
	if _, err := dev.Execute(context.Background(), cmd.WithWriteChunkSize(50)); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if got := sim.Writes(); len(got) != 3 || got[1] != 50 || got[2] != 50 {
		t.Errorf("expected frame then two 50-byte writes, got %v", got)
	}
}

func TestUploadRAM_RejectedBeforeWrite(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	_, err := dev.UploadRAM(context.Background(), 0, make([]byte, locutus.TotalRAMSize+2), locutus.CRC24Initial)
	if !errors.Is(err, locutus.ErrInsufficientMemory) {
		t.Errorf("expected ErrInsufficientMemory, got %v", err)
	}
	if len(sim.Writes()) != 0 {
		t.Errorf("oversized upload reached the port: %v", sim.Writes())
	}
	if dev.Statistics().Commands != 0 {
		t.Error("rejected command counted as executed")
	}
}

func TestExecute_Concurrent(t *testing.T) {
	dev, _ := newTestDevice(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dev.Ping(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent ping failed: %v", err)
	}
	if stats := dev.Statistics(); stats.Succeeded != 16 {
		t.Errorf("expected 16 successes, got %d", stats.Succeeded)
	}
}

// ============================================================
// Fault Injection Tests
// ============================================================

func TestFaults_ForcedNak(t *testing.T) {
	faults := &Faults{ForceNextNAK: true}
	dev, sim := newTestDevice(t, nil, WithFaults(faults))

	if _, err := dev.Ping(context.Background()); err != nil {
		t.Fatalf("ping must never be forced to NAK: %v", err)
	}
	if !faults.ForceNextNAK {
		t.Fatal("forced NAK consumed by ping")
	}

	_, err := dev.ErrorLog(context.Background())
	if !errors.Is(err, locutus.ErrNAK) {
		t.Fatalf("expected forced NAK, got %v", err)
	}
	if faults.ForceNextNAK {
		t.Error("forced NAK not cleared")
	}
	if sim.Pending() != 0 {
		t.Errorf("stream not resynchronised: %d bytes pending", sim.Pending())
	}
	if _, err := dev.ErrorLog(context.Background()); err != nil {
		t.Errorf("error log after forced NAK failed: %v", err)
	}
}

func TestFaults_ForcedNakSkipsPayload(t *testing.T) {
	faults := &Faults{ForceNextNAK: true}
	dev, sim := newTestDevice(t, nil, WithFaults(faults))
	ctx := context.Background()
	data := bytes.Repeat([]byte{0x3C}, 100)

	if _, err := dev.UploadRAM(ctx, 0, data, locutus.CRC24Initial); !errors.Is(err, locutus.ErrNAK) {
		t.Fatalf("expected forced NAK, got %v", err)
	}
	if len(sim.Frames()) != 0 {
		t.Errorf("refused frame was executed: %v", sim.Frames())
	}
	if sim.State().RAM[0] != 0 {
		t.Error("RAM written by a refused upload")
	}

	for i := 0; i < 3; i++ {
		if _, err := dev.Ping(ctx); err != nil {
			t.Fatalf("ping %d after forced NAK failed: %v", i, err)
		}
	}
	if _, err := dev.UploadRAM(ctx, 0, data, locutus.CRC24Initial); err != nil {
		t.Fatalf("upload after forced NAK failed: %v", err)
	}
	if !bytes.Equal(sim.State().RAM[:len(data)], data) {
		t.Error("RAM not written by the retried upload")
	}
}

func TestFaults_ForcedFailure(t *testing.T) {
	faults := &Faults{ForceNextFailure: true}
	dev, _ := newTestDevice(t, nil, WithFaults(faults))

	_, err := dev.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "forced failure") {
		t.Fatalf("expected forced failure, got %v", err)
	}
	if faults.ForceNextFailure {
		t.Error("forced failure not cleared")
	}
	if _, err := dev.Ping(context.Background()); err != nil {
		t.Errorf("second ping failed: %v", err)
	}
}

// ============================================================
// Operation Tests
// ============================================================

func TestDownloadAndLaunch(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	rom := bytes.Repeat([]byte{0x12, 0x34}, 500)

	if err := dev.DownloadAndLaunch(context.Background(), rom); err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if dev.State() != StateWaitingForBeacon {
		t.Errorf("expected %s, got %s", StateWaitingForBeacon, dev.State())
	}
	if sim.Pending() != len(locutus.Beacon) {
		t.Errorf("expected restart beacon pending, got %d bytes", sim.Pending())
	}

	status, err := dev.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping after launch failed: %v", err)
	}
	if dev.State() != StateReady {
		t.Errorf("expected %s, got %s", StateReady, dev.State())
	}
	if status.HardwareFlags&locutus.HardwareConsoleRunning == 0 {
		t.Error("console not running after launch")
	}
}

func TestSetConfiguration(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	if err := dev.SetConfiguration(context.Background(), 0x0000000100000005); err != nil {
		t.Fatalf("set configuration failed: %v", err)
	}
	status, err := dev.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if status.ConfigurationFlags != 5 || sim.State().ConfigurationFlags != 5 {
		t.Errorf("unexpected configuration flags: 0x%X", status.ConfigurationFlags)
	}
}

func TestLogs(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	sim.State().ErrorLog = []uint16{0x10, 0x20}
	sim.State().CrashLog = []byte{0xDE, 0xAD}
	sim.State().HardwareFlags = locutus.HardwareNewErrorLog | locutus.HardwareNewCrashLog
	ctx := context.Background()

	log, err := dev.ErrorLog(ctx)
	if err != nil {
		t.Fatalf("error log failed: %v", err)
	}
	if !log.Valid || len(log.Errors) != 2 || log.Errors[1] != 0x20 {
		t.Errorf("unexpected error log: %+v", log)
	}

	crash, err := dev.CrashLog(ctx)
	if err != nil {
		t.Fatalf("crash log failed: %v", err)
	}
	if crash.Empty() || !crash.Valid {
		t.Errorf("unexpected crash log: empty=%v valid=%v", crash.Empty(), crash.Valid)
	}

	if err := dev.EraseCrashLog(ctx); err != nil {
		t.Fatalf("erase failed: %v", err)
	}
	crash, _ = dev.CrashLog(ctx)
	if !crash.Empty() {
		t.Error("crash log not erased")
	}

	status, _ := dev.Ping(ctx)
	if status.HardwareFlags != 0 {
		t.Errorf("log flags not cleared: %s", locutus.FormatHardwareFlags(status.HardwareFlags))
	}
}

func TestRAMRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	ctx := context.Background()
	data := []byte("hello locutus, this is RAM data!")

	crc, err := dev.UploadRAM(ctx, 0x400, data, locutus.CRC24Initial)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if crc != locutus.CalculateCRC24(data) {
		t.Errorf("running CRC-24 0x%06X != 0x%06X", crc, locutus.CalculateCRC24(data))
	}

	got, err := dev.DownloadRAM(ctx, 0x400, uint32(len(data)))
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("RAM mismatch: %q", got)
	}

	sum, err := dev.ChecksumRAM(ctx, 0x400, uint32(len(data)))
	if err != nil {
		t.Fatalf("checksum failed: %v", err)
	}
	if sum != locutus.CalculateCRC(data) {
		t.Errorf("checksum 0x%08X != 0x%08X", sum, locutus.CalculateCRC(data))
	}
}

func TestForks(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	ctx := context.Background()
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i * 7)
	}

	fork, err := dev.StoreFork(ctx, 0x2000, 3, data)
	if err != nil {
		t.Fatalf("store fork failed: %v", err)
	}
	if fork.Size != 5000 || fork.CRC24 != locutus.CalculateCRC24(data) {
		t.Errorf("unexpected fork: %+v", fork)
	}

	tables, err := dev.GlobalTables(ctx)
	if err != nil {
		t.Fatalf("tables failed: %v", err)
	}
	if len(tables.Forks) != 4 || !tables.Forks[3].InUse() || tables.Forks[3].Size != 5000 {
		t.Errorf("fork not in table: %+v", tables.Forks)
	}

	flags, err := dev.DirtyFlags(ctx)
	if err != nil {
		t.Fatalf("dirty flags failed: %v", err)
	}
	if !flags.Has(locutus.DirtyGlobalForkTable | locutus.DirtyForkData) {
		t.Errorf("unexpected dirty flags: %s", locutus.FormatDirtyFlags(flags))
	}

	stats, err := dev.FileSystemStatistics(ctx)
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	if stats.VirtualBlocksTotal-stats.VirtualBlocksAvailable != 2 {
		t.Errorf("expected 2 blocks used, got %+v", stats)
	}

	if err := dev.ReadForkToRam(ctx, 0x8000, 3, 100, 200); err != nil {
		t.Fatalf("read fork failed: %v", err)
	}
	got, err := dev.DownloadRAM(ctx, 0x8000, 200)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(got, data[100:300]) {
		t.Error("fork data read back differs")
	}

	if err := dev.DeleteFork(ctx, 3); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := dev.ReadForkToRam(ctx, 0, 3, 0, 2); !errors.Is(err, locutus.ErrStatus) {
		t.Errorf("expected error status reading deleted fork, got %v", err)
	}
	if len(sim.State().ForkData) != 0 {
		t.Error("fork data not removed")
	}

	if err := dev.GarbageCollect(ctx); err != nil {
		t.Fatalf("garbage collect failed: %v", err)
	}
	if flags, _ := dev.DirtyFlags(ctx); flags != 0 {
		t.Errorf("dirty flags after GC: %s", locutus.FormatDirtyFlags(flags))
	}
}

func TestCreateFork_BadCRC(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	ctx := context.Background()

	if _, err := dev.UploadRAM(ctx, 0, []byte{1, 2, 3, 4}, locutus.CRC24Initial); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	err := dev.CreateFork(ctx, 0, locutus.Fork{Index: 0, Size: 4, CRC24: 0x123456})
	if !errors.Is(err, locutus.ErrStatus) {
		t.Errorf("expected error status, got %v", err)
	}
}

func TestUpdateTables(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	ctx := context.Background()

	indices := []uint16{0, 1, 2, 3, 4, 10}
	forks := make([]locutus.Fork, len(indices))
	for i, idx := range indices {
		forks[i] = locutus.Fork{Index: idx, StartBlock: idx * 2, Size: uint32(idx) * 100, CRC24: 0x100000 + uint32(idx)}
	}

	if err := dev.UpdateForks(ctx, forks, 0x1000); err != nil {
		t.Fatalf("update forks failed: %v", err)
	}

	var ids []locutus.CommandID
	for _, f := range sim.Frames() {
		ids = append(ids, f.ID)
	}
	want := []locutus.CommandID{
		locutus.CmdLfsUploadDataBlockToRam, locutus.CmdLfsUpdateGktFromRam,
		locutus.CmdLfsUploadDataBlockToRam, locutus.CmdLfsUpdateGktFromRam,
	}
	if len(ids) != len(want) {
		t.Fatalf("expected commands %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("command %d: expected %s, got %s", i, want[i], ids[i])
		}
	}

	tables, err := dev.GlobalTables(ctx)
	if err != nil {
		t.Fatalf("tables failed: %v", err)
	}
	if len(tables.Forks) != 11 {
		t.Fatalf("expected 11 fork slots, got %d", len(tables.Forks))
	}
	for _, f := range forks {
		if tables.Forks[f.Index] != f {
			t.Errorf("fork %d: expected %+v, got %+v", f.Index, f, tables.Forks[f.Index])
		}
	}
	if tables.Forks[5].InUse() {
		t.Error("gap slot reported in use")
	}
}

func TestUpdateFilesAndDirectories(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	ctx := context.Background()

	dir := locutus.Directory{Index: 0, ParentFile: 0}
	for i := range dir.Files {
		dir.Files[i] = locutus.InvalidIndex
	}
	dir.Files[0] = 1
	file := locutus.File{Index: 1, Type: 2, Color: 3, ParentDirectory: 0, OwnDirectory: locutus.InvalidIndex}
	for i := range file.Forks {
		file.Forks[i] = locutus.InvalidIndex
	}

	if err := dev.UpdateFiles(ctx, []locutus.File{file}, 0); err != nil {
		t.Fatalf("update files failed: %v", err)
	}
	if err := dev.UpdateDirectories(ctx, []locutus.Directory{dir}, 0); err != nil {
		t.Fatalf("update directories failed: %v", err)
	}

	tables, err := dev.GlobalTables(ctx)
	if err != nil {
		t.Fatalf("tables failed: %v", err)
	}
	if tables.Files[1] != file || tables.Files[0].InUse() {
		t.Errorf("unexpected files: %+v", tables.Files)
	}
	if tables.Directories[0] != dir {
		t.Errorf("unexpected directory: %+v", tables.Directories[0])
	}

	if err := dev.DeleteFile(ctx, 1); err != nil {
		t.Errorf("delete file failed: %v", err)
	}
	if err := dev.DeleteDirectory(ctx, 0); err != nil {
		t.Errorf("delete directory failed: %v", err)
	}
	if err := dev.DeleteDirectory(ctx, 0); !errors.Is(err, locutus.ErrStatus) {
		t.Errorf("expected error deleting twice, got %v", err)
	}
}

func TestUpdateTables_PlanErrorSendsNothing(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	err := dev.UpdateForks(context.Background(), []locutus.Fork{{Index: 0}}, 1)
	if !errors.Is(err, locutus.ErrDataMisaligned) {
		t.Errorf("expected ErrDataMisaligned, got %v", err)
	}
	if len(sim.Writes()) != 0 {
		t.Errorf("bytes written for invalid plan: %v", sim.Writes())
	}
}

func TestReformat(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	ctx := context.Background()

	if _, err := dev.StoreFork(ctx, 0, 0, []byte{1, 2}); err != nil {
		t.Fatalf("store fork failed: %v", err)
	}
	if err := dev.Reformat(ctx); err != nil {
		t.Fatalf("reformat failed: %v", err)
	}
	tables, err := dev.GlobalTables(ctx)
	if err != nil {
		t.Fatalf("tables failed: %v", err)
	}
	if len(tables.Forks) != 0 {
		t.Errorf("tables not cleared: %+v", tables.Forks)
	}
	stats, _ := dev.FileSystemStatistics(ctx)
	if stats.PhysicalSectorErasures != 2 {
		t.Errorf("expected 2 sector erasures, got %d", stats.PhysicalSectorErasures)
	}
}

func firmwareImage(revision uint32, body []byte) []byte {
	image := binary.LittleEndian.AppendUint32(nil, revision)
	image = append(image, body...)
	return binary.LittleEndian.AppendUint32(image, locutus.CalculateCRC(image))
}

func TestFirmwareUpdate(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	ctx := context.Background()
	image := firmwareImage(0x02000005, bytes.Repeat([]byte{0x5A}, 100))
	length := uint32(len(image))

	if _, err := dev.UploadRAM(ctx, 0, image, locutus.CRC24Initial); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	revision, err := dev.ValidateFirmwareImage(ctx, 0, length)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if revision != 0x02000005 {
		t.Errorf("unexpected revision %s", locutus.FormatRevision(revision))
	}

	if err := dev.EraseSecondaryFirmware(ctx); err != nil {
		t.Fatalf("erase failed: %v", err)
	}
	if err := dev.ProgramSecondaryFirmware(ctx, 0, length); err != nil {
		t.Fatalf("program failed: %v", err)
	}
	revisions, err := dev.FirmwareRevisions(ctx)
	if err != nil {
		t.Fatalf("revisions failed: %v", err)
	}
	if revisions.Secondary != 0x02000005 || revisions.Primary != simulator.DefaultRevision {
		t.Errorf("unexpected revisions: %s", locutus.FormatFirmwareRevisions(revisions))
	}

	if err := dev.ProgramSecondaryFirmware(ctx, 0, length); !errors.Is(err, locutus.ErrStatus) {
		t.Errorf("programming an unerased slot should fail, got %v", err)
	}
}

func TestFirmwareValidate_Corrupt(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	ctx := context.Background()
	image := firmwareImage(0x02000005, []byte{1, 2, 3, 4})
	image[5] ^= 0xFF

	if _, err := dev.UploadRAM(ctx, 0, image, locutus.CRC24Initial); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	_, err := dev.ValidateFirmwareImage(ctx, 0, uint32(len(image)))
	if !errors.Is(err, locutus.ErrStatus) || !locutus.IsKind(err, locutus.KindProtocol) {
		t.Errorf("expected protocol error status, got %v", err)
	}
}

func TestExecute_ErrorStatusKeepsPayloadLayout(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	cmd := mustCommand(locutus.NewValidateFirmwareImageInRam(0, 16))
	resp, err := dev.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Acknowledged || resp.Status != locutus.StatusError {
		t.Fatalf("expected error status, got status=0x%02X payload=% X", resp.Status, resp.Payload)
	}
	if !bytes.Equal(resp.Payload, make([]byte, 4)) {
		t.Errorf("expected zero payload, got % X", resp.Payload)
	}
	if errors.Is(resp.Failure, locutus.ErrChecksum) || strings.Contains(resp.Detail, "CRC") {
		t.Errorf("error status reported as a CRC failure: %q", resp.Detail)
	}
	if !errors.Is(resp.Failure, locutus.ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", resp.Failure)
	}
	if sim.Pending() != 0 {
		t.Errorf("beacon after error status not consumed: %d bytes pending", sim.Pending())
	}
	if stats := dev.Statistics(); stats.CRCErrors != 0 || stats.StatusErrors != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
	if _, err := dev.Ping(context.Background()); err != nil {
		t.Errorf("ping after error status failed: %v", err)
	}
}

func TestFailure_SingleLineMessage(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	tests := []struct {
		name  string
		fault func()
		cmd   locutus.Command
		want  string
	}{
		{
			"ack timeout",
			func() { sim.SilenceNext(1) },
			locutus.NewPing(),
			"PING: protocol error: no ACK within 6 attempts of 200ms (virtual NAK): timeout",
		},
		{
			"nak",
			func() { sim.NakNext(1) },
			locutus.NewGetDirtyFlags(),
			"LFS_GET_STATUS_FLAGS: protocol error: NAK received",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fault()
			resp, err := dev.Execute(context.Background(), tt.cmd)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := resp.Failure.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func mustCommand(cmd locutus.Command, err error) locutus.Command {
	if err != nil {
		panic(err)
	}
	return cmd
}
