// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import "fmt"

// AckResult is the outcome of feeding a byte to an AckMatcher
type AckResult int

const (
	// AckPending means no ACK or NAK has been seen yet
	AckPending AckResult = iota
	AckReceived
	NakReceived
)

func (r AckResult) String() string {
	switch r {
	case AckReceived:
		return "ACK"
	case NakReceived:
		return "NAK"
	default:
		return "PENDING"
	}
}

// maxDiagnostics caps the recorded mismatch messages
const maxDiagnostics = 16

// AckMatcher classifies the bytes that follow a command frame. ACK and NAK
// resolve at once, even in the middle of a beacon. Beacon characters are
// tracked and skipped; anything else is noise.
type AckMatcher struct {
	state       int // index of the next expected beacon character
	beacons     int
	consumed    int
	noise       int
	diagnostics []string
}

// NewAckMatcher creates a matcher at the start of the beacon sequence
func NewAckMatcher() *AckMatcher {
	return &AckMatcher{}
}

// Reset returns the matcher to its initial state
func (m *AckMatcher) Reset() {
	m.state = 0
	m.beacons = 0
	m.consumed = 0
	m.noise = 0
	m.diagnostics = m.diagnostics[:0]
}

// ConsumeByte processes one byte. matched is false when the byte was noise
// that neither resolved the acknowledgement nor fit the beacon.
func (m *AckMatcher) ConsumeByte(b byte) (result AckResult, matched bool) {
	m.consumed++

	switch b {
	case Ack:
		return AckReceived, true
	case Nak:
		return NakReceived, true
	}

	if b == Beacon[m.state] {
		m.state++
		if m.state == len(Beacon) {
			m.state = 0
			m.beacons++
		}
		return AckPending, true
	}

	m.addDiagnostic(fmt.Sprintf("unexpected byte 0x%02X at beacon position %d (expected %q)", b, m.state, Beacon[m.state]))
	m.state = 0
	if b == Beacon[0] {
		m.state = 1
		return AckPending, true
	}
	m.noise++
	return AckPending, false
}

func (m *AckMatcher) addDiagnostic(msg string) {
	if len(m.diagnostics) < maxDiagnostics {
		m.diagnostics = append(m.diagnostics, msg)
	}
}

// Consumed returns the number of bytes processed since the last reset
func (m *AckMatcher) Consumed() int {
	return m.consumed
}

// Beacons returns the number of complete beacons seen
func (m *AckMatcher) Beacons() int {
	return m.beacons
}

// Noise returns the number of bytes that fit neither ACK/NAK nor the beacon
func (m *AckMatcher) Noise() int {
	return m.noise
}

// Diagnostics returns the recorded mismatch messages
func (m *AckMatcher) Diagnostics() []string {
	return m.diagnostics
}
