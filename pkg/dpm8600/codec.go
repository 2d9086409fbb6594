// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import "math"

// Encode converts a physical value to its register representation by
// flooring value*scale. Results outside [0, 65535] (including NaN and
// infinities) return a *BoundaryError; values are never clamped.
func Encode(value float64, scale Scale) (uint16, error) {
	return encodeQuantity(quantityValue, value, scale)
}

func encodeQuantity(q Quantity, value float64, scale Scale) (uint16, error) {
	scaled := math.Floor(value * float64(scale))
	if math.IsNaN(scaled) || scaled < MinRegister || scaled > MaxRegister {
		return 0, &BoundaryError{Quantity: q, Value: value, Scale: scale, Scaled: scaled}
	}
	return uint16(scaled), nil
}

// Decode converts a register value back to its physical value.
func Decode(raw int64, scale Scale) float64 {
	return float64(raw) / float64(scale)
}
