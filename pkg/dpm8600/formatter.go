// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"fmt"
	"strings"
	"time"
)

// FormatValue formats a value read with kind together with its unit.
func FormatValue(kind CommandKind, value float64) string {
	switch kind.Quantity() {
	case QuantityVoltage:
		return fmt.Sprintf("%.2f V", value)
	case QuantityCurrent, QuantityMaxCurrent:
		return fmt.Sprintf("%.3f A", value)
	case QuantityPower:
		if value == 1 {
			return "ON"
		}
		return "OFF"
	case QuantityStatus:
		return RegulationMode(int(value)).String()
	case QuantityTemperature:
		return fmt.Sprintf("%.0f °C", value)
	default:
		return fmt.Sprintf("%g", value)
	}
}

// FormatReading formats a reading on one line
func FormatReading(r Reading) string {
	timestamp := r.Timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s %s %s %s %s %s (%.2f W)\n",
		timestamp,
		r.Address,
		FormatValue(ReadVoltage, r.Voltage),
		FormatValue(ReadCurrent, r.Current),
		FormatValue(ReadPower, r.Power),
		r.Mode(),
		FormatValue(ReadTemperature, r.Temperature),
		r.Watts(),
	)
}

// FormatExchange formats a raw frame and its response for diagnostics.
// Control characters are shown escaped.
func FormatExchange(frame, response string, rtt time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TX %q\n", frame+string(FrameTerminator))
	fmt.Fprintf(&b, "RX %q (%v)\n", response, rtt.Round(time.Millisecond))
	if len(response) >= PreambleLength {
		fmt.Fprintf(&b, "   preamble=%q payload=%q\n", response[:PreambleLength], response[PreambleLength:])
	}
	return b.String()
}
