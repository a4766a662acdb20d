// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

// Package simulator is an in-memory LTO Flash! device.
//
// A Simulator satisfies device.Port: frames written to it are decoded and
// executed against a simulated RAM and file system, and the response is
// queued for reading. Reads on an empty queue time out immediately.
package simulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ltoflash/ltoctl/pkg/locutus"
)

// DefaultBaudRate is reported by BaudRate
const DefaultBaudRate = 2000000

// Simulator is an in-memory device
type Simulator struct {
	mu sync.Mutex

	state *State

	in  bytes.Buffer // host bytes not yet processed
	out bytes.Buffer // device bytes not yet read

	pending *locutus.Frame // frame waiting for its payload
	current locutus.Frame  // frame being answered

	readTimeout  time.Duration
	writeTimeout time.Duration
	baudRate     int

	beacons     int // beacons sent before each acknowledgement
	nakNext     int
	silentNext  int
	corruptNext int
	dropPercent int
	rng         *rand.Rand

	frames []locutus.Frame
	writes []int
	logger *log.Logger
}

// Option configures a Simulator
type Option func(*Simulator)

// WithState starts the simulator from a saved state
func WithState(s *State) Option {
	return func(sim *Simulator) {
		if s != nil {
			sim.state = s
		}
	}
}

// WithBeacons sends n beacons ahead of every acknowledgement
func WithBeacons(n int) Option {
	return func(sim *Simulator) {
		sim.beacons = n
	}
}

// WithSeed seeds the connection drop generator
func WithSeed(seed int64) Option {
	return func(sim *Simulator) {
		sim.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger records port diagnostics
func WithLogger(l *log.Logger) Option {
	return func(sim *Simulator) {
		sim.logger = l
	}
}

// New creates a simulator with a freshly formatted device
func New(opts ...Option) *Simulator {
	sim := &Simulator{
		state:        NewState(),
		readTimeout:  time.Second,
		writeTimeout: time.Second,
		baudRate:     DefaultBaudRate,
		rng:          rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim
}

// State returns the device state. The caller must not use it concurrently
// with the simulator.
func (s *Simulator) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot encodes the device state
func (s *Simulator) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Restore replaces the device state with a snapshot
func (s *Simulator) Restore(data []byte) error {
	state, err := LoadState(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// NakNext answers the next n frames with a NAK
func (s *Simulator) NakNext(n int) {
	s.mu.Lock()
	s.nakNext = n
	s.mu.Unlock()
}

// SilenceNext ignores the next n frames entirely
func (s *Simulator) SilenceNext(n int) {
	s.mu.Lock()
	s.silentNext = n
	s.mu.Unlock()
}

// CorruptNext flips a CRC bit in the next n responses
func (s *Simulator) CorruptNext(n int) {
	s.mu.Lock()
	s.corruptNext = n
	s.mu.Unlock()
}

// Inject queues raw bytes for the host to read
func (s *Simulator) Inject(data []byte) {
	s.mu.Lock()
	s.out.Write(data)
	s.mu.Unlock()
}

// Frames returns the command frames received so far
func (s *Simulator) Frames() []locutus.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]locutus.Frame(nil), s.frames...)
}

// Writes returns the length of every Write call so far
func (s *Simulator) Writes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.writes...)
}

// Pending returns the number of unread response bytes
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Len()
}

// Read returns queued response bytes, or locutus.ErrTimeout when none are queued
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	if s.out.Len() == 0 {
		return 0, fmt.Errorf("simulator read after %v: %w", s.readTimeout, locutus.ErrTimeout)
	}
	return s.out.Read(p)
}

// Write accepts host bytes and runs every complete command they contain
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, len(p))
	s.in.Write(p)
	s.process()
	return len(p), nil
}

func (s *Simulator) ReadTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTimeout
}

func (s *Simulator) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
	return nil
}

func (s *Simulator) WriteTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTimeout
}

func (s *Simulator) SetWriteTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeTimeout = d
	return nil
}

func (s *Simulator) BaudRate() int {
	return s.baudRate
}

// WaitForBeacon discards queued output up to and including the next beacon
func (s *Simulator) WaitForBeacon(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := bytes.Index(s.out.Bytes(), []byte(locutus.Beacon))
	if i < 0 {
		s.out.Reset()
		return false
	}
	s.out.Next(i + len(locutus.Beacon))
	return true
}

func (s *Simulator) Logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// process consumes complete frames and payloads from the input buffer
func (s *Simulator) process() {
	for {
		if s.pending != nil {
			size := int(s.pending.Args[1])
			if s.pending.ID == locutus.CmdDownloadAndPlay {
				size = int(s.pending.Args[0])
			}
			if s.in.Len() < size {
				return
			}
			frame := *s.pending
			s.pending = nil
			s.completePayload(frame, s.in.Next(size))
			continue
		}

		// resynchronise on the frame header
		for s.in.Len() > 0 && s.in.Bytes()[0] != locutus.HeaderLead {
			s.in.Next(1)
		}
		if s.in.Len() < locutus.FrameSize {
			return
		}

		raw := s.in.Bytes()[:locutus.FrameSize]
		frame, err := locutus.DecodeFrame(raw)
		if err != nil {
			s.Logf("simulator: %v", err)
			// a frame whose header checks out is dropped whole
			if raw[3] == locutus.HeaderTail && raw[1]^0xFF == raw[2] {
				s.in.Next(locutus.FrameSize)
			} else {
				s.in.Next(1)
			}
			s.nak()
			continue
		}
		s.in.Next(locutus.FrameSize)
		s.frames = append(s.frames, frame)
		s.dispatch(frame)
	}
}

// acknowledge queues the beacons and the ACK byte
func (s *Simulator) acknowledge() {
	for i := 0; i < s.beacons; i++ {
		s.out.WriteString(locutus.Beacon)
	}
	s.out.WriteByte(locutus.Ack)
}

// nak refuses a frame and announces the device is ready again
func (s *Simulator) nak() {
	s.out.WriteByte(locutus.Nak)
	s.out.WriteString(locutus.Beacon)
}

// respond queues the rest of an acknowledged response: payload, status, CRC
func (s *Simulator) respond(payload []byte, status byte) {
	response := make([]byte, 0, 1+len(payload)+1)
	response = append(response, locutus.Ack)
	response = append(response, payload...)
	response = append(response, status)

	crc := locutus.CalculateCRC(response)
	if s.corruptNext > 0 {
		s.corruptNext--
		crc ^= 1
	}

	s.out.Write(response[1:])
	var tail [locutus.CRCSize]byte
	binary.LittleEndian.PutUint32(tail[:], crc)
	s.out.Write(tail[:])

	if status != locutus.StatusSuccess {
		s.out.WriteString(locutus.Beacon)
	}
}

func (s *Simulator) succeed(payload []byte) {
	s.respond(payload, locutus.StatusSuccess)
}

// fail answers the current frame with an error status. The payload is zero
// filled to the size the host expects so the reply keeps its layout.
func (s *Simulator) fail(format string, args ...interface{}) {
	s.Logf("simulator: "+format, args...)
	s.respond(make([]byte, responseSize(s.current)), locutus.StatusError)
}

// responseSize is the payload size the host reads after acknowledging f
func responseSize(f locutus.Frame) int {
	switch size := f.ID.ResponseSize(); {
	case f.ID == locutus.CmdLfsDownloadDataBlockFromRam:
		return int(min(f.Args[1], locutus.TotalRAMSize))
	case size < 0:
		// an empty tables header
		return locutus.GlobalTablesHeaderSize
	default:
		return size
	}
}

// dropped decides whether the connection drops this command
func (s *Simulator) dropped() bool {
	return s.dropPercent > 0 && s.rng.Intn(100) < s.dropPercent
}
