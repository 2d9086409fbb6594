// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"errors"
	"testing"
)

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		address Address
		want    string
	}{
		{1, "01"},
		{9, "09"},
		{10, "10"},
		{99, "99"},
	}

	for _, tt := range tests {
		if got := FormatAddress(tt.address); got != tt.want {
			t.Errorf("FormatAddress(%d) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestNewAddress(t *testing.T) {
	for _, n := range []int{0, 100, -1, 255} {
		if _, err := NewAddress(n); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("NewAddress(%d) error = %v, want ErrInvalidAddress", n, err)
		}
	}

	a, err := NewAddress(42)
	if err != nil || a != 42 {
		t.Errorf("NewAddress(42) = %d, %v", a, err)
	}

	if got := ClampAddress(150); got != DefaultAddress {
		t.Errorf("ClampAddress(150) = %d, want %d", got, DefaultAddress)
	}
	if got := ClampAddress(7); got != 7 {
		t.Errorf("ClampAddress(7) = %d, want 7", got)
	}

	if a, err := ParseAddress("07"); err != nil || a != 7 {
		t.Errorf("ParseAddress(\"07\") = %d, %v", a, err)
	}
	if _, err := ParseAddress("x1"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ParseAddress(\"x1\") error = %v", err)
	}
}

func TestBuildFrames(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"read voltage", BuildReadFrame(1, OpcodeReadVoltage), ":01r30=0,"},
		{"read max current", BuildReadFrame(12, OpcodeMaxCurrent), ":12r01=0,"},
		{"read temperature", BuildReadFrame(99, OpcodeReadTemperature), ":99r33=0,"},
		{"write voltage", BuildWriteFrame(5, OpcodeWriteVoltage, 1234), ":05w10=1234,"},
		{"write current zero", BuildWriteFrame(1, OpcodeWriteCurrent, 0), ":01w11=0,"},
		{"write power", BuildWriteFrame(1, OpcodePower, 1), ":01w12=1,"},
		{"write register max", BuildWriteFrame(1, OpcodeWriteVoltage, 65535), ":01w10=65535,"},
		{"combined", BuildCombinedWriteFrame(1, 500, 1000), ":01w20=500,1000,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("frame = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCommandTable(t *testing.T) {
	tests := []struct {
		kind      CommandKind
		opcode    string
		direction Direction
		scale     Scale
	}{
		{ReadVoltage, "30", Read, ScaleVoltage},
		{ReadCurrent, "31", Read, ScaleCurrent},
		{ReadPower, "12", Read, ScaleUnit},
		{ReadStatus, "32", Read, ScaleUnit},
		{ReadMaxCurrent, "01", Read, ScaleCurrent},
		{ReadTemperature, "33", Read, ScaleUnit},
		{WriteVoltage, "10", Write, ScaleVoltage},
		{WriteCurrent, "11", Write, ScaleCurrent},
		{WritePower, "12", Write, ScaleUnit},
		{WriteVoltageAndCurrent, "20", Write, ScaleUnit},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if !tt.kind.Valid() {
				t.Fatal("kind should be valid")
			}
			if got := tt.kind.Opcode(); got != tt.opcode {
				t.Errorf("Opcode() = %q, want %q", got, tt.opcode)
			}
			if got := tt.kind.Direction(); got != tt.direction {
				t.Errorf("Direction() = %v, want %v", got, tt.direction)
			}
			if got := tt.kind.Scale(); got != tt.scale {
				t.Errorf("Scale() = %d, want %d", got, tt.scale)
			}
		})
	}

	if CommandKind(42).Valid() {
		t.Error("CommandKind(42) should not be valid")
	}
}

func TestKindFromSelector(t *testing.T) {
	tests := []struct {
		sel     byte
		dir     Direction
		want    CommandKind
		wantErr bool
	}{
		{'v', Read, ReadVoltage, false},
		{'C', Read, ReadCurrent, false},
		{'p', Read, ReadPower, false},
		{'S', Read, ReadStatus, false},
		{'m', Read, ReadMaxCurrent, false},
		{'t', Read, ReadTemperature, false},
		{'x', Read, ReadTemperature, false},
		{'V', Write, WriteVoltage, false},
		{'c', Write, WriteCurrent, false},
		{'P', Write, WritePower, false},
		{'x', Write, 0, true},
		{'t', Write, 0, true},
	}

	for _, tt := range tests {
		got, err := KindFromSelector(tt.sel, tt.dir)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("KindFromSelector(%q, %v) error = %v, want ErrInvalidCommand", tt.sel, tt.dir, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("KindFromSelector(%q, %v) error: %v", tt.sel, tt.dir, err)
			continue
		}
		if got != tt.want {
			t.Errorf("KindFromSelector(%q, %v) = %v, want %v", tt.sel, tt.dir, got, tt.want)
		}
	}
}

func TestParseReadKind(t *testing.T) {
	tests := map[string]CommandKind{
		"voltage":     ReadVoltage,
		"Current":     ReadCurrent,
		"power":       ReadPower,
		"status":      ReadStatus,
		"max-current": ReadMaxCurrent,
		"max_current": ReadMaxCurrent,
		"temperature": ReadTemperature,
		"temp":        ReadTemperature,
		"v":           ReadVoltage,
		"m":           ReadMaxCurrent,
	}

	for name, want := range tests {
		got, err := ParseReadKind(name)
		if err != nil {
			t.Errorf("ParseReadKind(%q) error: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseReadKind(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := ParseReadKind("frequency"); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("ParseReadKind(\"frequency\") error = %v, want ErrInvalidCommand", err)
	}
}
