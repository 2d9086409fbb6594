// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// fakeChannel is a scripted converter. Every complete frame written to it is
// passed to respond; when respond returns ok the reply plus '\n' becomes
// readable. Read returns (0, nil) while nothing is pending, like a serial
// port whose read timeout expired.
type fakeChannel struct {
	mu       sync.Mutex
	frames   []string
	partial  strings.Builder
	rx       []byte
	respond  func(attempt int, frame string) (reply string, ok bool)
	readErr  error
	writeErr error
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

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
		if f.respond == nil {
			continue
		}
		if reply, ok := f.respond(len(f.frames), frame); ok {
			f.rx = append(f.rx, reply...)
			f.rx = append(f.rx, '\n')
		}
	}
	return len(p), nil
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.rx) == 0 || len(p) == 0 {
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeChannel) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

// silent never answers.
func silent() *fakeChannel {
	return &fakeChannel{}
}

// answerFrom answers every frame from attempt k on with reply.
func answerFrom(k int, reply string) *fakeChannel {
	return &fakeChannel{
		respond: func(attempt int, frame string) (string, bool) {
			return reply, attempt >= k
		},
	}
}

// registers answers read frames from a register map keyed by opcode and
// acknowledges writes, the way a converter would.
func registers(values map[string]string) *fakeChannel {
	return &fakeChannel{
		respond: func(attempt int, frame string) (string, bool) {
			if len(frame) < 6 {
				return "", false
			}
			preamble := frame[:6] + "="
			if frame[3] == 'w' {
				return ":" + frame[1:3] + "ok", true
			}
			v, ok := values[frame[4:6]]
			return preamble + v, ok
		},
	}
}

// stepClock advances by step every time it is read, so listen windows
// elapse after a fixed number of polls without sleeping.
func stepClock(step time.Duration) Clock {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

var errBusGone = errors.New("bus gone")

func newTestDriver(t testingT, ch SerialChannel, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithClock(stepClock(time.Millisecond))}, opts...)
	d, err := New(ch, 1, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

type testingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}
