// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type eofReader struct{ reads int }

func (r *eofReader) Read(p []byte) (int, error) {
	r.reads++
	return 0, io.EOF
}

func TestListen_Line(t *testing.T) {
	ch := &fakeChannel{rx: []byte(":01r30=1234\n:01r31=5\n")}

	line, err := listen(context.Background(), ch, 50*time.Millisecond, stepClock(time.Millisecond))
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	if line != ":01r30=1234" {
		t.Errorf("line = %q, want %q", line, ":01r30=1234")
	}

	// The second line stays queued for the next listen.
	line, err = listen(context.Background(), ch, 50*time.Millisecond, stepClock(time.Millisecond))
	if err != nil || line != ":01r31=5" {
		t.Errorf("second line = %q, %v", line, err)
	}
}

func TestListen_EmptyLine(t *testing.T) {
	ch := &fakeChannel{rx: []byte("\n")}

	line, err := listen(context.Background(), ch, 50*time.Millisecond, stepClock(time.Millisecond))
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	if line != "" {
		t.Errorf("line = %q, want empty", line)
	}
}

func TestListen_TimeoutKeepsPartial(t *testing.T) {
	ch := &fakeChannel{rx: []byte(":01r30")}

	line, err := listen(context.Background(), ch, 20*time.Millisecond, stepClock(time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if line != ":01r30" {
		t.Errorf("partial line = %q, want %q", line, ":01r30")
	}
}

func TestListen_EOFIsPollMiss(t *testing.T) {
	r := &eofReader{}

	_, err := listen(context.Background(), r, 10*time.Millisecond, stepClock(time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if r.reads == 0 {
		t.Error("reader was never polled")
	}
}

func TestListen_ReadError(t *testing.T) {
	ch := &fakeChannel{readErr: errBusGone}

	_, err := listen(context.Background(), ch, 50*time.Millisecond, stepClock(time.Millisecond))
	if !errors.Is(err, errBusGone) {
		t.Fatalf("error = %v, want %v", err, errBusGone)
	}
}

func TestListen_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := listen(ctx, silent(), 50*time.Millisecond, stepClock(time.Millisecond))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestListen_ZeroWindow(t *testing.T) {
	ch := &fakeChannel{rx: []byte("1\n")}

	line, err := listen(context.Background(), ch, 0, stepClock(time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if line != "" {
		t.Errorf("line = %q, want nothing read", line)
	}
}
