// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
)

// bus owns the connection to a converter bus and hands out one driver per
// address. Converters share the line, so every command runs under the lock.
type bus struct {
	mu      sync.Mutex
	conn    Connection
	info    string
	dial    func() (Connection, string, error)
	stats   *dpm8600.Statistics
	opts    []dpm8600.Option
	drivers map[dpm8600.Address]*dpm8600.Driver
}

func newBus(conn Connection, info string, dial func() (Connection, string, error), stats *dpm8600.Statistics, opts ...dpm8600.Option) *bus {
	if stats == nil {
		stats = dpm8600.NewStatistics()
	}

	return &bus{
		conn:    conn,
		info:    info,
		dial:    dial,
		stats:   stats,
		opts:    append(opts, dpm8600.WithStatistics(stats)),
		drivers: make(map[dpm8600.Address]*dpm8600.Driver),
	}
}

// openBus opens the configured connection and wraps it in a bus recording
// into stats, or into fresh statistics when stats is nil. Extra options are
// applied after the configured ones.
func openBus(stats *dpm8600.Statistics, extra ...dpm8600.Option) (*bus, error) {
	dial := func() (Connection, string, error) {
		return OpenConnection(cfg)
	}

	conn, info, err := dial()
	if err != nil {
		return nil, err
	}

	opts := cfg.DriverOptions()
	opts = append(opts, dpm8600.WithLogger(logger))
	opts = append(opts, extra...)
	return newBus(conn, info, dial, stats, opts...), nil
}

// Info describes the underlying connection
func (b *bus) Info() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// Stats returns the statistics shared by every driver on the bus
func (b *bus) Stats() *dpm8600.Statistics {
	return b.stats
}

// Do runs fn with the driver for address while holding the bus.
func (b *bus) Do(address dpm8600.Address, fn func(d *dpm8600.Driver) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return ErrConnectionClosed
	}

	d, ok := b.drivers[address]
	if !ok {
		var err error
		d, err = dpm8600.New(b.conn, address, b.opts...)
		if err != nil {
			return err
		}
		b.drivers[address] = d
	}
	return fn(d)
}

// replace swaps in a new connection after a reconnect. Drivers bound to the
// old connection are dropped; statistics carry over.
func (b *bus) replace(conn Connection, info string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.info = info
	b.drivers = make(map[dpm8600.Address]*dpm8600.Driver)
}

// reconnect closes the current connection and dials until it succeeds or ctx
// is done, backing off exponentially between attempts. It returns the new
// connection description.
func (b *bus) reconnect(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()

	backoff := minReconnectBackoff
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		conn, info, err := b.dial()
		if err == nil {
			b.replace(conn, info)
			return info, nil
		}
		logger.WithError(err).WithField("backoff", backoff).Debug("reconnect failed")

		// Exponential backoff
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

// Close closes the connection
func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Reconnect backoff bounds
var (
	minReconnectBackoff = 1 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

// isTransportError reports whether err means the connection itself failed,
// as opposed to a converter not answering or answering garbage.
func isTransportError(err error) bool {
	if errors.Is(err, ErrConnectionClosed) {
		return true
	}

	var cmdErr *dpm8600.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	if errors.Is(cmdErr.Err, dpm8600.ErrTimeout) ||
		errors.Is(cmdErr.Err, context.Canceled) ||
		errors.Is(cmdErr.Err, context.DeadlineExceeded) {
		return false
	}

	var decodeErr *dpm8600.DecodeError
	return !errors.As(cmdErr.Err, &decodeErr)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseAddressList parses a comma separated list of addresses and ranges
// such as "1,3,10-12". The result is sorted and free of duplicates.
func parseAddressList(s string) ([]dpm8600.Address, error) {
	seen := make(map[dpm8600.Address]bool)

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi := part, part
		if i := strings.Index(part, "-"); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}

		from, err := dpm8600.ParseAddress(strings.TrimSpace(lo))
		if err != nil {
			return nil, err
		}
		to, err := dpm8600.ParseAddress(strings.TrimSpace(hi))
		if err != nil {
			return nil, err
		}
		if from > to {
			return nil, fmt.Errorf("invalid address range %q", part)
		}

		for a := from; a <= to; a++ {
			seen[a] = true
		}
	}

	if len(seen) == 0 {
		return nil, errors.New("no addresses given")
	}

	addresses := make([]dpm8600.Address, 0, len(seen))
	for a := range seen {
		addresses = append(addresses, a)
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })
	return addresses, nil
}

// targetAddresses returns the addresses given with --addresses, or the
// configured device address when the list is empty.
func targetAddresses(list string) ([]dpm8600.Address, error) {
	if strings.TrimSpace(list) != "" {
		return parseAddressList(list)
	}
	address, err := cfg.DeviceAddress()
	if err != nil {
		return nil, err
	}
	return []dpm8600.Address{address}, nil
}
