// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
)

// fakeBus emulates converters sharing one serial line. Each converter is a
// register map keyed by opcode; writes update the map and are acknowledged.
// Addresses without a map never answer.
type fakeBus struct {
	mu        sync.Mutex
	devices   map[string]map[string]string
	frames    []string
	partial   strings.Builder
	rx        []byte
	closed    bool
	writeErr  error
	closeHits int
}

func newFakeBus() *fakeBus {
	return &fakeBus{devices: make(map[string]map[string]string)}
}

// addConverter registers a converter at address with typical readings:
// 12.00 V, 1.500 A, output on, CV mode, 31 °C, max current 12 A.
func (f *fakeBus) addConverter(address string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	regs := map[string]string{
		dpm8600.OpcodeReadVoltage:     "1200",
		dpm8600.OpcodeReadCurrent:     "1500",
		dpm8600.OpcodePower:           "1",
		dpm8600.OpcodeReadStatus:      "0",
		dpm8600.OpcodeReadTemperature: "31",
		dpm8600.OpcodeMaxCurrent:      "12000",
	}
	f.devices[address] = regs
	return regs
}

func (f *fakeBus) register(address, opcode string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[address][opcode]
}

func (f *fakeBus) setRegister(address, opcode, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[address][opcode] = value
}

func (f *fakeBus) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, errors.New("write on closed port")
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}

	for _, b := range p {
		if b != '\n' {
			f.partial.WriteByte(b)
			continue
		}
		frame := f.partial.String()
		f.partial.Reset()
		f.frames = append(f.frames, frame)
		if reply, ok := f.answer(frame); ok {
			f.rx = append(f.rx, reply...)
			f.rx = append(f.rx, '\n')
		}
	}
	return len(p), nil
}

// answer handles ":AArOO=0," and ":AAwOO=N," frames
func (f *fakeBus) answer(frame string) (string, bool) {
	if len(frame) < 8 || frame[0] != ':' {
		return "", false
	}
	address, dir, opcode := frame[1:3], frame[3], frame[4:6]
	regs, ok := f.devices[address]
	if !ok {
		return "", false
	}

	switch dir {
	case 'r':
		v, ok := regs[opcode]
		return frame[:6] + "=" + v + ".", ok
	case 'w':
		args := strings.Split(strings.TrimSuffix(frame[7:], ","), ",")
		if opcode == dpm8600.OpcodeVoltageAndCurrent && len(args) == 2 {
			regs[dpm8600.OpcodeReadVoltage] = args[0]
			regs[dpm8600.OpcodeReadCurrent] = args[1]
		} else {
			switch opcode {
			case dpm8600.OpcodeWriteVoltage:
				regs[dpm8600.OpcodeReadVoltage] = args[0]
			case dpm8600.OpcodeWriteCurrent:
				regs[dpm8600.OpcodeReadCurrent] = args[0]
			case dpm8600.OpcodePower:
				regs[dpm8600.OpcodePower] = args[0]
			}
		}
		return ":" + address + "ok", true
	}
	return "", false
}

// Read behaves like a serial port with a short read timeout
func (f *fakeBus) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	if len(f.rx) == 0 || len(p) == 0 {
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer f.mu.Unlock()
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeHits++
	return nil
}

func (f *fakeBus) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

// testBusOptions keep timeouts short
func testBusOptions() []dpm8600.Option {
	return []dpm8600.Option{
		dpm8600.WithMaxRetry(2),
		dpm8600.WithListenTimeout(30 * time.Millisecond),
	}
}

// newTestBus wraps conn in a bus whose dial always fails
func newTestBus(t *testing.T, conn Connection) *bus {
	t.Helper()
	dial := func() (Connection, string, error) {
		return nil, "", errors.New("dial disabled")
	}
	return newBus(conn, "fake", dial, nil, testBusOptions()...)
}

// fastReconnect shortens the reconnect backoff for the duration of a test
func fastReconnect(t *testing.T) {
	t.Helper()
	minPrev, maxPrev := minReconnectBackoff, maxReconnectBackoff
	minReconnectBackoff = time.Millisecond
	maxReconnectBackoff = 4 * time.Millisecond
	t.Cleanup(func() {
		minReconnectBackoff, maxReconnectBackoff = minPrev, maxPrev
	})
}
