// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// SerialChannel is the byte transport to the converter bus.
//
// Read must not block much longer than a short poll interval: returning
// (0, nil) or (0, io.EOF) means no byte is available yet. Serial ports
// configured with a read timeout behave this way.
type SerialChannel interface {
	io.Reader
	io.Writer
}

// Clock returns the current time. The listen window is measured with it.
type Clock func() time.Time

// Listen collects one response line from ch.
//
// Bytes are appended to the line until '\n' arrives, which ends the line
// successfully; the terminator is not included. If the window elapses first
// Listen returns ErrTimeout together with whatever partial line was read.
// The content of the line is not validated.
func Listen(ctx context.Context, ch io.Reader, timeout time.Duration) (string, error) {
	return listen(ctx, ch, timeout, time.Now)
}

func listen(ctx context.Context, ch io.Reader, timeout time.Duration, now Clock) (string, error) {
	var line strings.Builder
	buf := make([]byte, 1)
	start := now()

	for now().Sub(start) < timeout {
		if err := ctx.Err(); err != nil {
			return line.String(), err
		}

		n, err := ch.Read(buf)
		if n == 1 {
			if buf[0] == FrameTerminator {
				return line.String(), nil
			}
			line.WriteByte(buf[0])
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return line.String(), err
		}
	}

	return line.String(), ErrTimeout
}
