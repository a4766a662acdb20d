// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package device

import (
	"fmt"
	"time"
)

// Statistics tracks command outcomes on one device
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Commands        uint64
	Succeeded       uint64
	Acks            uint64
	Naks            uint64
	AckTimeouts     uint64
	StatusErrors    uint64
	CRCErrors       uint64
	TransportErrors uint64
	BeaconBytes     uint64 // beacon characters skipped while waiting for ACK
	NoiseBytes      uint64
	BytesSent       uint64
	BytesReceived   uint64

	// Rates (calculated)
	CommandRate float64 // commands/sec
	ErrorRate   float64 // failures/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one command
func (s *Statistics) Update(resp *Response) {
	s.Commands++
	switch {
	case resp.Succeeded:
		s.Succeeded++
	case resp.TimedOut:
		s.AckTimeouts++
	}
	if resp.Acknowledged {
		s.Acks++
	} else if resp.Nak() {
		s.Naks++
	}
	if resp.transport {
		s.TransportErrors++
	}
	if resp.crcMismatch {
		s.CRCErrors++
	}
	if resp.Acknowledged && resp.Status != 0 {
		s.StatusErrors++
	}
	s.LastUpdateTime = time.Now()
}

// Failures returns the number of commands that did not succeed
func (s *Statistics) Failures() uint64 {
	return s.Commands - s.Succeeded
}

// CalculateRates calculates command and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CommandRate = float64(s.Commands) / elapsed
		s.ErrorRate = float64(s.Failures()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var successPercent float64
	if s.Commands > 0 {
		successPercent = float64(s.Succeeded) * 100.0 / float64(s.Commands)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Commands:        %8d\n", s.Commands)
	result += fmt.Sprintf("Succeeded:       %8d (%.1f%%)\n", s.Succeeded, successPercent)

	if s.Naks > 0 {
		result += fmt.Sprintf("NAKs:            %8d\n", s.Naks)
	}
	if s.AckTimeouts > 0 {
		result += fmt.Sprintf("ACK Timeouts:    %8d\n", s.AckTimeouts)
	}
	if s.StatusErrors > 0 {
		result += fmt.Sprintf("Status Errors:   %8d\n", s.StatusErrors)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d\n", s.TransportErrors)
	}
	if s.BeaconBytes > 0 || s.NoiseBytes > 0 {
		result += fmt.Sprintf("Skipped Bytes:   %8d (beacon %d, noise %d)\n",
			s.BeaconBytes+s.NoiseBytes, s.BeaconBytes, s.NoiseBytes)
	}

	result += fmt.Sprintf("Sent/Received:   %8d / %d bytes\n", s.BytesSent, s.BytesReceived)
	result += fmt.Sprintf("Command Rate:    %8.1f cmds/sec\n", s.CommandRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
