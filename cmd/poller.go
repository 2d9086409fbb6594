// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"github.com/Thermoquad/dpmctl/internal/metrics"
	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
)

// pollResult is the outcome of one snapshot of one converter
type pollResult struct {
	address dpm8600.Address
	reading dpm8600.Reading
	err     error
}

// poller reads a full snapshot from every address on a fixed interval and
// reconnects when the connection fails.
type poller struct {
	bus       *bus
	addresses []dpm8600.Address
	interval  time.Duration
	exporter  *metrics.Exporter // optional

	onResult      func(pollResult)
	onConnLost    func(err error)
	onReconnected func(info string)
}

// run polls until ctx is done
func (p *poller) run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if p.onConnLost != nil {
				p.onConnLost(err)
			}
			info, err := p.bus.reconnect(ctx)
			if err != nil {
				return nil
			}
			if p.onReconnected != nil {
				p.onReconnected(info)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce reads every address once. It returns the first transport error,
// after which the remaining addresses are skipped.
func (p *poller) pollOnce(ctx context.Context) error {
	for _, address := range p.addresses {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var reading dpm8600.Reading
		err := p.bus.Do(address, func(d *dpm8600.Driver) error {
			var err error
			reading, err = d.ReadAll(ctx)
			return err
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p.exporter != nil {
			if err != nil {
				p.exporter.SetDown(address)
			} else {
				p.exporter.SetReading(reading)
			}
		}
		if p.onResult != nil {
			p.onResult(pollResult{address: address, reading: reading, err: err})
		}

		if isTransportError(err) {
			return err
		}
	}
	return nil
}
