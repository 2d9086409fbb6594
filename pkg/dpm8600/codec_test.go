// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"errors"
	"math"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		scale Scale
		want  uint16
	}{
		{"voltage", 5.0, ScaleVoltage, 500},
		{"current", 1.0, ScaleCurrent, 1000},
		{"voltage max", 655.35, ScaleVoltage, 65535},
		{"current max", 65.535, ScaleCurrent, 65535},
		{"unit", 1, ScaleUnit, 1},
		{"zero", 0, ScaleVoltage, 0},
		{"floors instead of rounding", 0.29, ScaleVoltage, 28},
		{"drops sub-resolution digits", 1.2349, ScaleCurrent, 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value, tt.scale)
			if err != nil {
				t.Fatalf("Encode(%g, %d) error: %v", tt.value, tt.scale, err)
			}
			if got != tt.want {
				t.Errorf("Encode(%g, %d) = %d, want %d", tt.value, tt.scale, got, tt.want)
			}
		})
	}
}

func TestEncode_OutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		scale Scale
	}{
		{"negative voltage", -0.01, ScaleVoltage},
		{"negative unit", -1, ScaleUnit},
		{"voltage overflow", 655.36, ScaleVoltage},
		{"current overflow", 65.536, ScaleCurrent},
		{"unit overflow", 65536, ScaleUnit},
		{"NaN", math.NaN(), ScaleVoltage},
		{"+Inf", math.Inf(1), ScaleCurrent},
		{"-Inf", math.Inf(-1), ScaleUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value, tt.scale)
			if err == nil {
				t.Fatalf("Encode(%g, %d) should fail", tt.value, tt.scale)
			}
			var boundary *BoundaryError
			if !errors.As(err, &boundary) {
				t.Fatalf("error should be *BoundaryError, got %T", err)
			}
			if !errors.Is(err, ErrOutOfRange) {
				t.Error("error should wrap ErrOutOfRange")
			}
			if boundary.Scale != tt.scale {
				t.Errorf("BoundaryError.Scale = %d, want %d", boundary.Scale, tt.scale)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		raw   int64
		scale Scale
		want  float64
	}{
		{1234, ScaleVoltage, 12.34},
		{1000, ScaleCurrent, 1},
		{5120, ScaleCurrent, 5.12},
		{42, ScaleUnit, 42},
		{0, ScaleVoltage, 0},
	}

	for _, tt := range tests {
		if got := Decode(tt.raw, tt.scale); got != tt.want {
			t.Errorf("Decode(%d, %d) = %g, want %g", tt.raw, tt.scale, got, tt.want)
		}
	}
}
