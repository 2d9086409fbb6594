// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of a Statistics tracker.
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	Commands        uint64 // logical commands started
	Attempts        uint64 // frames transmitted
	Retries         uint64
	Successes       uint64 // attempts answered in time
	Timeouts        uint64 // commands that exhausted every attempt
	DecodeErrors    uint64
	BoundaryErrors  uint64
	TransportErrors uint64
	DiscardedBytes  uint64 // stale bytes dropped before a transmit

	LastRoundTrip  time.Duration
	TotalRoundTrip time.Duration

	// Rates (calculated)
	CommandRate float64 // commands/sec
	ErrorRate   float64 // errors/sec
}

// Errors returns the number of failed commands of every kind.
func (c Counters) Errors() uint64 {
	return c.Timeouts + c.DecodeErrors + c.BoundaryErrors + c.TransportErrors
}

// AverageRoundTrip returns the mean time from transmit to response.
func (c Counters) AverageRoundTrip() time.Duration {
	if c.Successes == 0 {
		return 0
	}
	return c.TotalRoundTrip / time.Duration(c.Successes)
}

// String returns a formatted statistics summary
func (c Counters) String() string {
	var successPercent, retryPercent float64
	if c.Attempts > 0 {
		successPercent = float64(c.Successes) * 100.0 / float64(c.Attempts)
	}
	if c.Commands > 0 {
		retryPercent = float64(c.Retries) * 100.0 / float64(c.Commands)
	}

	elapsed := c.LastUpdateTime.Sub(c.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Commands:        %8d\n", c.Commands)
	result += fmt.Sprintf("Frames Sent:     %8d\n", c.Attempts)
	result += fmt.Sprintf("Answered:        %8d (%.1f%%)\n", c.Successes, successPercent)

	if c.Retries > 0 {
		result += fmt.Sprintf("Retries:         %8d (%.1f%% of commands)\n", c.Retries, retryPercent)
	}
	if c.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", c.Timeouts)
	}
	if c.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", c.DecodeErrors)
	}
	if c.BoundaryErrors > 0 {
		result += fmt.Sprintf("Out of Range:    %8d\n", c.BoundaryErrors)
	}
	if c.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d\n", c.TransportErrors)
	}
	if c.DiscardedBytes > 0 {
		result += fmt.Sprintf("Stale Bytes:     %8d\n", c.DiscardedBytes)
	}

	result += fmt.Sprintf("Avg Round Trip:  %8s\n", c.AverageRoundTrip().Round(time.Millisecond))
	result += fmt.Sprintf("Command Rate:    %8.1f cmds/sec\n", c.CommandRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	result += "================================\n"

	return result
}

// Statistics tracks command outcomes for one or more drivers. It is safe
// for concurrent use so exporters can read it while a driver records.
type Statistics struct {
	mu  sync.Mutex
	c   Counters
	now Clock
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	s := &Statistics{now: time.Now}
	s.Reset()
	return s
}

// Snapshot returns a copy of the counters with rates calculated.
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.c
	elapsed := s.now().Sub(c.StartTime).Seconds()
	if elapsed > 0 {
		c.CommandRate = float64(c.Commands) / elapsed
		c.ErrorRate = float64(c.Errors()) / elapsed
	}
	c.LastUpdateTime = s.now()
	return c
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.c = Counters{StartTime: now, LastUpdateTime: now}
}

func (s *Statistics) update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.c)
	s.c.LastUpdateTime = s.now()
}

func (s *Statistics) recordCommand() {
	s.update(func(c *Counters) { c.Commands++ })
}

func (s *Statistics) recordAttempt() {
	s.update(func(c *Counters) { c.Attempts++ })
}

func (s *Statistics) recordRetry() {
	s.update(func(c *Counters) { c.Retries++ })
}

func (s *Statistics) recordSuccess(rtt time.Duration) {
	s.update(func(c *Counters) {
		c.Successes++
		c.LastRoundTrip = rtt
		c.TotalRoundTrip += rtt
	})
}

func (s *Statistics) recordTimeout() {
	s.update(func(c *Counters) { c.Timeouts++ })
}

func (s *Statistics) recordDecodeError() {
	s.update(func(c *Counters) { c.DecodeErrors++ })
}

func (s *Statistics) recordBoundaryError() {
	s.update(func(c *Counters) { c.BoundaryErrors++ })
}

func (s *Statistics) recordTransportError() {
	s.update(func(c *Counters) { c.TransportErrors++ })
}

func (s *Statistics) recordDiscarded(n int) {
	s.update(func(c *Counters) { c.DiscardedBytes += uint64(n) })
}
