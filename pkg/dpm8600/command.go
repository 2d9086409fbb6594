// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"fmt"
	"strings"
)

// Scale is the fixed-point multiplier between a physical quantity and its
// 16-bit register value.
type Scale int

// Register scales
const (
	ScaleUnit    Scale = 1
	ScaleVoltage Scale = 100
	ScaleCurrent Scale = 1000
)

// Direction tells whether a command reads or writes a register.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Quantity identifies the physical value a command is about.
type Quantity int

const (
	quantityValue Quantity = iota - 1
	QuantityVoltage
	QuantityCurrent
	QuantityPower
	QuantityStatus
	QuantityMaxCurrent
	QuantityTemperature
	QuantityVoltageAndCurrent
)

var quantityNames = map[Quantity]string{
	quantityValue:             "value",
	QuantityVoltage:           "voltage",
	QuantityCurrent:           "current",
	QuantityPower:             "power",
	QuantityStatus:            "status",
	QuantityMaxCurrent:        "max-current",
	QuantityTemperature:       "temperature",
	QuantityVoltageAndCurrent: "voltage-and-current",
}

func (q Quantity) String() string {
	if name, ok := quantityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("Quantity(%d)", int(q))
}

// CommandKind enumerates every operation the driver can issue.
type CommandKind int

const (
	ReadVoltage CommandKind = iota
	ReadCurrent
	ReadPower
	ReadStatus
	ReadMaxCurrent
	ReadTemperature
	WriteVoltage
	WriteCurrent
	WritePower
	WriteVoltageAndCurrent
)

// commandSpec is the protocol description of one CommandKind.
type commandSpec struct {
	name      string
	opcode    string
	direction Direction
	scale     Scale
	quantity  Quantity
}

var commandTable = map[CommandKind]commandSpec{
	ReadVoltage:            {"read-voltage", OpcodeReadVoltage, Read, ScaleVoltage, QuantityVoltage},
	ReadCurrent:            {"read-current", OpcodeReadCurrent, Read, ScaleCurrent, QuantityCurrent},
	ReadPower:              {"read-power", OpcodePower, Read, ScaleUnit, QuantityPower},
	ReadStatus:             {"read-status", OpcodeReadStatus, Read, ScaleUnit, QuantityStatus},
	ReadMaxCurrent:         {"read-max-current", OpcodeMaxCurrent, Read, ScaleCurrent, QuantityMaxCurrent},
	ReadTemperature:        {"read-temperature", OpcodeReadTemperature, Read, ScaleUnit, QuantityTemperature},
	WriteVoltage:           {"write-voltage", OpcodeWriteVoltage, Write, ScaleVoltage, QuantityVoltage},
	WriteCurrent:           {"write-current", OpcodeWriteCurrent, Write, ScaleCurrent, QuantityCurrent},
	WritePower:             {"write-power", OpcodePower, Write, ScaleUnit, QuantityPower},
	WriteVoltageAndCurrent: {"write-voltage-and-current", OpcodeVoltageAndCurrent, Write, ScaleUnit, QuantityVoltageAndCurrent},
}

func (k CommandKind) spec() (commandSpec, bool) {
	s, ok := commandTable[k]
	return s, ok
}

// Valid reports whether k is a known command kind.
func (k CommandKind) Valid() bool {
	_, ok := commandTable[k]
	return ok
}

// Opcode returns the two-digit register opcode, or "" for unknown kinds.
func (k CommandKind) Opcode() string {
	return commandTable[k].opcode
}

// Direction returns whether k reads or writes.
func (k CommandKind) Direction() Direction {
	return commandTable[k].direction
}

// Scale returns the fixed-point scale of the register k addresses.
// WriteVoltageAndCurrent carries two values and reports ScaleUnit.
func (k CommandKind) Scale() Scale {
	if s, ok := commandTable[k]; ok {
		return s.scale
	}
	return ScaleUnit
}

// Quantity returns the physical quantity k is about.
func (k CommandKind) Quantity() Quantity {
	return commandTable[k].quantity
}

func (k CommandKind) String() string {
	if s, ok := commandTable[k]; ok {
		return s.name
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// ReadKinds lists the read commands in the order a full snapshot uses.
var ReadKinds = []CommandKind{
	ReadVoltage,
	ReadCurrent,
	ReadPower,
	ReadStatus,
	ReadMaxCurrent,
	ReadTemperature,
}

// KindFromSelector maps the single-letter selectors of the converter's
// reference firmware tooling (v, c, p, s, m, t, any case) to a CommandKind.
//
// For reads an unknown selector selects the temperature register, which is
// what the converter documentation specifies. For writes an unknown selector
// is rejected with ErrInvalidCommand.
func KindFromSelector(sel byte, dir Direction) (CommandKind, error) {
	switch dir {
	case Read:
		switch sel {
		case 'v', 'V':
			return ReadVoltage, nil
		case 'c', 'C':
			return ReadCurrent, nil
		case 'p', 'P':
			return ReadPower, nil
		case 's', 'S':
			return ReadStatus, nil
		case 'm', 'M':
			return ReadMaxCurrent, nil
		default:
			return ReadTemperature, nil
		}
	case Write:
		switch sel {
		case 'v', 'V':
			return WriteVoltage, nil
		case 'c', 'C':
			return WriteCurrent, nil
		case 'p', 'P':
			return WritePower, nil
		}
	}
	return 0, fmt.Errorf("%w: selector %q for %s", ErrInvalidCommand, sel, dir)
}

// ParseReadKind parses a quantity name as used on the command line
// ("voltage", "current", "power", "status", "max-current", "temperature")
// or its single-letter selector.
func ParseReadKind(name string) (CommandKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, k := range ReadKinds {
		if k.Quantity().String() == n {
			return k, nil
		}
	}
	switch n {
	case "maxcurrent", "max_current":
		return ReadMaxCurrent, nil
	case "temp":
		return ReadTemperature, nil
	}
	if len(n) == 1 && strings.ContainsRune("vcpsmt", rune(n[0])) {
		return KindFromSelector(n[0], Read)
	}
	return 0, fmt.Errorf("%w: unknown quantity %q", ErrInvalidCommand, name)
}
