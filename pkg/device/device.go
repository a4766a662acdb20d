// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

// Package device executes LTO Flash! protocol commands over a Port.
//
// A Device owns one port and runs one command at a time: frame out,
// acknowledgement, optional payload in either direction, status byte and
// response CRC. Port timeouts changed for a command are restored afterwards.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// maxAckScanBytes bounds how much beacon output is skipped waiting for an ACK
const maxAckScanBytes = 4096

// State is the connection state of a Device
type State int

const (
	// StateReady accepts commands
	StateReady State = iota

	// StateWaitingForBeacon follows a launch; the console restarts and the
	// device announces itself before it accepts the next command
	StateWaitingForBeacon
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateWaitingForBeacon:
		return "WAITING_FOR_BEACON"
	default:
		return "UNKNOWN"
	}
}

// Response is the outcome of one executed command
type Response struct {
	Command      locutus.CommandID
	Succeeded    bool
	Acknowledged bool
	TimedOut     bool // no ACK or NAK arrived in time
	Status       byte
	Payload      []byte

	// Detail is human-readable failure text (expected vs. observed)
	Detail string

	// Failure is set whenever Succeeded is false
	Failure *locutus.Error

	transport   bool
	crcMismatch bool
}

// Nak reports whether the device refused the command
func (r *Response) Nak() bool {
	return !r.Acknowledged && !r.TimedOut && !r.transport
}

// Device executes commands on one port. It is safe for concurrent use;
// commands run strictly one at a time in lock order.
type Device struct {
	port   Port
	config Config

	mu         sync.Mutex
	state      State
	stats      *Statistics
	lastDetail string
}

// New creates a Device on port
func New(port Port, opts ...Option) *Device {
	if port == nil {
		panic("port cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Device{
		port:   port,
		config: cfg,
		state:  StateReady,
		stats:  NewStatistics(),
	}
}

// State returns the connection state
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Statistics returns a snapshot of the command statistics
func (d *Device) Statistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.stats
}

// LastErrorDetail returns the failure detail of the most recent failed command
func (d *Device) LastErrorDetail() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDetail
}

// Execute runs cmd to completion.
//
// Protocol failures (NAK, error status, CRC mismatch) are reported through
// the Response with a nil error. Transport failures (timeouts, I/O errors)
// return both the Response and a *locutus.Error wrapping the cause. The
// context is checked before the command starts; once bytes are on the wire
// the command runs until it completes or times out.
func (d *Device) Execute(ctx context.Context, cmd locutus.Command) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &locutus.Error{Kind: locutus.KindTransport, Op: cmd.Name(), Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateWaitingForBeacon {
		if !d.port.WaitForBeacon(d.config.BeaconTimeout) {
			d.config.Logger.Info("no beacon after launch within %v", d.config.BeaconTimeout)
		}
		d.state = StateReady
	}

	resp, err := d.execute(cmd)
	d.stats.Update(resp)
	if !resp.Succeeded {
		d.lastDetail = resp.Detail
	}
	return resp, err
}

func (d *Device) execute(cmd locutus.Command) (*Response, error) {
	resp := &Response{Command: cmd.ID()}
	var detail strings.Builder

	previousRead := d.port.ReadTimeout()
	previousWrite := d.port.WriteTimeout()
	defer func() {
		// The port may be gone after a disconnect; nothing more to do then
		if err := d.port.SetReadTimeout(previousRead); err != nil {
			d.config.Logger.Debug("restore read timeout: %v", err)
		}
		if err := d.port.SetWriteTimeout(previousWrite); err != nil {
			d.config.Logger.Debug("restore write timeout: %v", err)
		}
	}()

	fail := func(kind locutus.Kind, cause error) {
		resp.Succeeded = false
		resp.Detail = detail.String()
		resp.Failure = &locutus.Error{Kind: kind, Op: cmd.Name(), Detail: summarize(resp.Detail, cause), Err: cause}
	}
	transportFailure := func(err error) (*Response, error) {
		fmt.Fprintf(&detail, "%v\n", err)
		d.port.Logf("%s failed: %v", cmd.Name(), err)
		resp.transport = true
		fail(locutus.KindTransport, err)
		return resp, resp.Failure
	}

	if err := d.port.SetWriteTimeout(d.writeTimeout(cmd)); err != nil {
		return transportFailure(err)
	}

	frame := cmd.Serialize()
	if faults := d.config.Faults; faults != nil && faults.ForceNextNAK && cmd.ForcedNakAllowed() {
		faults.ForceNextNAK = false
		// the device refuses a frame with a bad CRC before it reads any payload
		frame[len(frame)-1] ^= 0xFF
		detail.WriteString("forced NAK\n")
	}
	d.config.Logger.Debug("send %s", cmd.ID())
	if err := writeAll(d.port, frame, 0); err != nil {
		return transportFailure(fmt.Errorf("write frame: %w", err))
	}
	d.stats.BytesSent += uint64(len(frame))

	ack, err := d.readAck(&detail)
	if err != nil {
		return transportFailure(fmt.Errorf("read acknowledgement: %w", err))
	}

	if ack != locutus.AckReceived {
		resp.TimedOut = ack == locutus.AckPending
		if resp.TimedOut {
			fmt.Fprintf(&detail, "no ACK within %d attempts of %v (virtual NAK)\n",
				locutus.AckReadAttempts, locutus.AckReadTimeout)
			fail(locutus.KindProtocol, locutus.ErrTimeout)
		} else {
			detail.WriteString("NAK received\n")
			fail(locutus.KindProtocol, locutus.ErrNAK)
		}
		d.resync()
		return resp, nil
	}
	resp.Acknowledged = true

	response := []byte{locutus.Ack}

	if payload := cmd.Payload(); len(payload) > 0 {
		chunk := cmd.WriteChunkSize()
		if chunk <= 0 {
			chunk = d.config.WriteChunkSize
		}
		if err := writeAll(d.port, payload, chunk); err != nil {
			return transportFailure(fmt.Errorf("write %d byte payload: %w", len(payload), err))
		}
		d.stats.BytesSent += uint64(len(payload))
	}

	timeout := cmd.Timeout()
	if d.config.ResponseTimeout > 0 {
		timeout = d.config.ResponseTimeout
	}
	if err := d.port.SetReadTimeout(timeout); err != nil {
		return transportFailure(err)
	}

	payload, err := cmd.ReadResponsePayload(d.port)
	if err != nil {
		return transportFailure(err)
	}
	response = append(response, payload...)

	tail := make([]byte, 1+locutus.CRCSize)
	if _, err := io.ReadFull(d.port, tail); err != nil {
		return transportFailure(fmt.Errorf("read status and CRC: %w", err))
	}
	resp.Status = tail[0]
	response = append(response, resp.Status)
	crc := binary.LittleEndian.Uint32(tail[1:])
	d.stats.BytesReceived += uint64(len(response) + locutus.CRCSize)

	resp.Payload = payload
	resp.Succeeded = locutus.ValidateResponse(response, crc)
	if !resp.Succeeded {
		resp.crcMismatch = true
		fmt.Fprintf(&detail, "computed CRC 0x%08X, received 0x%08X\n", locutus.CalculateCRC(response), crc)
		fail(locutus.KindProtocol, locutus.ErrChecksum)
	}

	if resp.Status != locutus.StatusSuccess {
		fmt.Fprintf(&detail, "device returned %s\n", locutus.FormatStatus(resp.Status))
		fail(locutus.KindProtocol, locutus.ErrStatus)
		d.resync()
	}

	if faults := d.config.Faults; faults != nil && faults.ForceNextFailure {
		faults.ForceNextFailure = false
		detail.WriteString("forced failure\n")
		fail(locutus.KindProtocol, errors.New("forced failure"))
	}

	if resp.Succeeded && cmd.ID() == locutus.CmdDownloadAndPlay {
		d.state = StateWaitingForBeacon
	}
	return resp, nil
}

// readAck reads until an ACK or NAK arrives. It returns AckPending when the
// attempts run out; an attempt is a read timeout or a byte that is not part
// of the beacon.
func (d *Device) readAck(detail *strings.Builder) (locutus.AckResult, error) {
	if err := d.port.SetReadTimeout(locutus.AckReadTimeout); err != nil {
		return locutus.AckPending, err
	}

	matcher := locutus.NewAckMatcher()
	resolved := 0
	defer func() {
		d.stats.NoiseBytes += uint64(matcher.Noise())
		d.stats.BeaconBytes += uint64(matcher.Consumed() - matcher.Noise() - resolved)
		for _, msg := range matcher.Diagnostics() {
			fmt.Fprintf(detail, "%s\n", msg)
		}
	}()

	buf := make([]byte, 1)
	attempts := 0
	for attempts < locutus.AckReadAttempts && matcher.Consumed() < maxAckScanBytes {
		n, err := d.port.Read(buf)
		if err != nil {
			if errors.Is(err, locutus.ErrTimeout) {
				attempts++
				continue
			}
			return locutus.AckPending, err
		}
		if n == 0 {
			attempts++
			continue
		}

		result, matched := matcher.ConsumeByte(buf[0])
		switch result {
		case locutus.AckReceived, locutus.NakReceived:
			// the resolving byte is not beacon output
			resolved = 1
			return result, nil
		}
		if !matched {
			attempts++
		}
	}
	return locutus.AckPending, nil
}

// summarize folds detail lines into one line for an error message. Lines
// that only repeat the cause are left out.
func summarize(detail string, cause error) string {
	var parts []string
	for _, line := range strings.Split(detail, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (cause != nil && line == cause.Error()) {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "; ")
}

// resync waits for the device to announce itself so the next command starts
// on a clean stream
func (d *Device) resync() {
	if !d.port.WaitForBeacon(d.config.BeaconTimeout) {
		d.config.Logger.Debug("no beacon within %v after failure", d.config.BeaconTimeout)
	}
}

// writeTimeout scales the write timeout for commands that send a payload
func (d *Device) writeTimeout(cmd locutus.Command) time.Duration {
	timeout := d.config.WriteTimeout
	if n := len(cmd.Payload()); n > 0 {
		estimate := 2*estimateTransferTime(n+locutus.FrameSize, d.port.BaudRate()) + time.Second
		if estimate > timeout {
			timeout = estimate
		}
	}
	return timeout
}

// ResetStatistics clears the command statistics
func (d *Device) ResetStatistics() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Reset()
}
