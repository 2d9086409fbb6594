// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Driver talks to one converter on a serial bus.
//
// Commands are strictly sequential: each call owns the channel until it
// returns, blocking for at most MaxRetry listen windows. A Driver takes no
// locks; callers sharing one between goroutines must serialise access.
type Driver struct {
	ch            SerialChannel
	address       Address
	maxRetry      int
	listenTimeout time.Duration
	now           Clock
	log           logrus.FieldLogger
	stats         *Statistics
	onRoundTrip   func(Address, time.Duration)
}

// Option configures a Driver.
type Option func(*Driver)

// WithMaxRetry sets how many times a command is transmitted before it fails.
func WithMaxRetry(n int) Option {
	return func(d *Driver) {
		d.maxRetry = n
	}
}

// WithListenTimeout sets the listen window of each attempt.
func WithListenTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.listenTimeout = timeout
	}
}

// WithClock replaces time.Now for measuring listen windows.
func WithClock(now Clock) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithLogger sets the logger used for frame tracing and retry warnings.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Driver) {
		d.log = log
	}
}

// WithStatistics makes the driver record into stats instead of its own
// tracker. Several drivers may share one Statistics.
func WithStatistics(stats *Statistics) Option {
	return func(d *Driver) {
		d.stats = stats
	}
}

// WithRoundTripHook registers fn to be called with the round-trip time of
// every answered attempt.
func WithRoundTripHook(fn func(address Address, rtt time.Duration)) Option {
	return func(d *Driver) {
		d.onRoundTrip = fn
	}
}

// New creates a driver for the converter at address on ch.
func New(ch SerialChannel, address Address, opts ...Option) (*Driver, error) {
	if ch == nil {
		return nil, errors.New("dpm8600: nil serial channel")
	}
	if !address.Valid() {
		return nil, fmt.Errorf("dpm8600: %w: %d", ErrInvalidAddress, uint8(address))
	}

	d := &Driver{
		ch:            ch,
		address:       address,
		maxRetry:      DefaultMaxRetry,
		listenTimeout: DefaultListenTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.maxRetry < 1 {
		return nil, fmt.Errorf("dpm8600: max retry must be at least 1, got %d", d.maxRetry)
	}
	if d.listenTimeout <= 0 {
		return nil, fmt.Errorf("dpm8600: listen timeout must be positive, got %v", d.listenTimeout)
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		d.log = discard
	}
	d.log = d.log.WithField("address", address.String())
	if d.stats == nil {
		d.stats = NewStatistics()
	}

	return d, nil
}

// Address returns the converter's bus address.
func (d *Driver) Address() Address {
	return d.address
}

// MaxRetry returns the number of transmissions per command.
func (d *Driver) MaxRetry() int {
	return d.maxRetry
}

// ListenTimeout returns the listen window of each attempt.
func (d *Driver) ListenTimeout() time.Duration {
	return d.listenTimeout
}

// Stats returns the driver's statistics tracker.
func (d *Driver) Stats() *Statistics {
	return d.stats
}

// Begin checks that a converter answers at the driver's address by reading
// its max current, which must be positive. The max current is returned.
func (d *Driver) Begin(ctx context.Context) (float64, error) {
	maxCurrent, err := d.Read(ctx, ReadMaxCurrent)
	if err != nil {
		return 0, &InitError{Address: d.address, Err: err}
	}
	if maxCurrent <= 0 {
		return maxCurrent, &InitError{Address: d.address, MaxCurrent: maxCurrent, Err: ErrNotDetected}
	}
	d.log.WithField("max_current", maxCurrent).Debug("converter detected")
	return maxCurrent, nil
}

// Read reads the register selected by kind and returns its physical value.
func (d *Driver) Read(ctx context.Context, kind CommandKind) (float64, error) {
	spec, ok := kind.spec()
	if !ok || spec.direction != Read {
		return 0, fmt.Errorf("%w: %s is not a read command", ErrInvalidCommand, kind)
	}

	line, attempts, err := d.execute(ctx, BuildReadFrame(d.address, spec.opcode), Read, spec.quantity)
	if err != nil {
		return 0, err
	}

	value, err := DecodeResponse(line, spec.scale)
	if err != nil {
		d.stats.recordDecodeError()
		d.log.WithError(err).Warnf("%s: undecodable response", kind)
		return 0, &CommandError{Direction: Read, Quantity: spec.quantity, Attempts: attempts, Err: err}
	}
	return value, nil
}

// Write sets the register selected by kind to value. The value is range
// checked before anything is transmitted. WritePower accepts only 0 and 1.
func (d *Driver) Write(ctx context.Context, kind CommandKind, value float64) error {
	spec, ok := kind.spec()
	if !ok || spec.direction != Write {
		return fmt.Errorf("%w: %s is not a write command", ErrInvalidCommand, kind)
	}
	if kind == WriteVoltageAndCurrent {
		return fmt.Errorf("%w: %s takes two values, use WriteVoltageAndCurrent", ErrInvalidCommand, kind)
	}
	if kind == WritePower && value != 0 && value != 1 {
		return fmt.Errorf("%w: got %g", ErrInvalidPowerValue, value)
	}

	raw, err := encodeQuantity(spec.quantity, value, spec.scale)
	if err != nil {
		d.stats.recordBoundaryError()
		return err
	}

	_, _, err = d.execute(ctx, BuildWriteFrame(d.address, spec.opcode, raw), Write, spec.quantity)
	return err
}

// WriteVoltageAndCurrent sets both limits with a single frame. Both values
// are range checked first; the frame is retried as one unit.
func (d *Driver) WriteVoltageAndCurrent(ctx context.Context, voltage, current float64) error {
	v, err := encodeQuantity(QuantityVoltage, voltage, ScaleVoltage)
	if err != nil {
		d.stats.recordBoundaryError()
		return err
	}
	c, err := encodeQuantity(QuantityCurrent, current, ScaleCurrent)
	if err != nil {
		d.stats.recordBoundaryError()
		return err
	}

	_, _, err = d.execute(ctx, BuildCombinedWriteFrame(d.address, v, c), Write, QuantityVoltageAndCurrent)
	return err
}

// Power switches the output on or off.
func (d *Driver) Power(ctx context.Context, on bool) error {
	value := 0.0
	if on {
		value = 1
	}
	return d.Write(ctx, WritePower, value)
}

// Exchange transmits frame verbatim and returns the raw response line. It
// uses the same retry loop as every other command and is meant for
// diagnostics.
func (d *Driver) Exchange(ctx context.Context, frame string) (string, error) {
	line, _, err := d.execute(ctx, frame, Read, quantityValue)
	return line, err
}

// execute runs the attempt/retry loop for one logical command. It returns
// the response line and the number of transmissions made.
func (d *Driver) execute(ctx context.Context, frame string, dir Direction, q Quantity) (string, int, error) {
	d.stats.recordCommand()
	log := d.log.WithFields(logrus.Fields{"op": dir.String(), "quantity": q.String()})

	for attempt := 1; attempt <= d.maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", attempt - 1, &CommandError{Direction: dir, Quantity: q, Attempts: attempt - 1, Err: err}
		}

		if n := d.drain(); n > 0 {
			d.stats.recordDiscarded(n)
			log.WithField("bytes", n).Warn("discarded stale bytes before transmit")
		}

		log.WithField("attempt", attempt).Debugf("tx %s", frame)
		start := d.now()
		if _, err := io.WriteString(d.ch, frame+string(FrameTerminator)); err != nil {
			d.stats.recordTransportError()
			return "", attempt, &CommandError{Direction: dir, Quantity: q, Attempts: attempt, Err: err}
		}
		d.stats.recordAttempt()

		line, err := listen(ctx, d.ch, d.listenTimeout, d.now)
		if err == nil {
			rtt := d.now().Sub(start)
			d.stats.recordSuccess(rtt)
			if d.onRoundTrip != nil {
				d.onRoundTrip(d.address, rtt)
			}
			log.WithField("rtt", rtt).Debugf("rx %s", line)
			return line, attempt, nil
		}
		if !errors.Is(err, ErrTimeout) {
			d.stats.recordTransportError()
			return "", attempt, &CommandError{Direction: dir, Quantity: q, Attempts: attempt, Err: err}
		}

		if attempt < d.maxRetry {
			d.stats.recordRetry()
			log.WithField("attempt", attempt).Warn("no response, retrying")
		}
	}

	d.stats.recordTimeout()
	log.WithField("attempts", d.maxRetry).Warn("no response, giving up")
	return "", d.maxRetry, &CommandError{Direction: dir, Quantity: q, Attempts: d.maxRetry, Err: ErrTimeout}
}

// maxDrain bounds how many stale bytes are discarded before one transmit.
const maxDrain = 4096

// drain discards bytes already waiting on the channel, such as a late reply
// to an earlier attempt, so the next response line belongs to the next
// frame. It stops at the first empty read. Read errors are left for the
// listener to report.
func (d *Driver) drain() int {
	buf := make([]byte, 64)
	discarded := 0
	for discarded < maxDrain {
		n, err := d.ch.Read(buf)
		discarded += n
		if n == 0 || err != nil {
			break
		}
	}
	return discarded
}
