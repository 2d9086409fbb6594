// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"context"
	"time"
)

// RegulationMode is the converter's constant-voltage / constant-current state.
type RegulationMode int

// Regulation modes as reported by the status register
const (
	ModeCV RegulationMode = 0
	ModeCC RegulationMode = 1
)

func (m RegulationMode) String() string {
	if m == ModeCC {
		return "CC"
	}
	return "CV"
}

// Reading is one snapshot of a converter's output registers.
type Reading struct {
	Address     Address   `json:"address" yaml:"address" cbor:"1,keyasint"`
	Voltage     float64   `json:"voltage" yaml:"voltage" cbor:"2,keyasint"`
	Current     float64   `json:"current" yaml:"current" cbor:"3,keyasint"`
	Power       float64   `json:"power" yaml:"power" cbor:"4,keyasint"`
	Status      float64   `json:"status" yaml:"status" cbor:"5,keyasint"`
	Temperature float64   `json:"temperature" yaml:"temperature" cbor:"6,keyasint"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp" cbor:"7,keyasint"`
}

// On reports whether the output is switched on.
func (r Reading) On() bool {
	return r.Power == 1
}

// Mode returns the regulation mode from the status register.
func (r Reading) Mode() RegulationMode {
	if r.Status == 1 {
		return ModeCC
	}
	return ModeCV
}

// Watts returns the output power drawn, voltage times current.
func (r Reading) Watts() float64 {
	return r.Voltage * r.Current
}

// ReadAll reads voltage, current, power state, regulation status and
// temperature in that order. It stops at the first failing read.
func (d *Driver) ReadAll(ctx context.Context) (Reading, error) {
	r := Reading{Address: d.address}

	targets := []struct {
		kind CommandKind
		dst  *float64
	}{
		{ReadVoltage, &r.Voltage},
		{ReadCurrent, &r.Current},
		{ReadPower, &r.Power},
		{ReadStatus, &r.Status},
		{ReadTemperature, &r.Temperature},
	}

	for _, t := range targets {
		v, err := d.Read(ctx, t.kind)
		if err != nil {
			return r, err
		}
		*t.dst = v
	}

	r.Timestamp = d.now()
	return r, nil
}
