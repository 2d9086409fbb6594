// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dpm8600 implements the ASCII command protocol spoken by DPM8600-series
// programmable power converters over a TTL serial link.
//
// Every command is a single line of the form ":AArOO=0," (read) or
// ":AAwOO=N," (write), where AA is the two-digit bus address and OO the
// two-digit register opcode. The converter answers with one line terminated
// by '\n'. This package provides frame building, fixed-point scaling,
// response collection with a listen window, bounded retries and response
// decoding.
package dpm8600

import "time"

// Frame syntax
const (
	FrameStart      = ':'
	FrameSeparator  = ','
	FrameAssign     = '='
	FrameTerminator = '\n'

	DirectionRead  = 'r'
	DirectionWrite = 'w'
)

// Register opcodes
const (
	OpcodeMaxCurrent        = "01"
	OpcodeWriteVoltage      = "10"
	OpcodeWriteCurrent      = "11"
	OpcodePower             = "12"
	OpcodeVoltageAndCurrent = "20"
	OpcodeReadVoltage       = "30"
	OpcodeReadCurrent       = "31"
	OpcodeReadStatus        = "32"
	OpcodeReadTemperature   = "33"
)

// PreambleLength is the number of characters the converter echoes in front of
// every response payload (":01r30=" for a voltage read on address 1).
const PreambleLength = 7

// Register limits
const (
	MinRegister = 0
	MaxRegister = 65535

	MinAddress = 1
	MaxAddress = 99
)

// Driver defaults
const (
	DefaultAddress       Address = 1
	DefaultMaxRetry              = 3
	DefaultListenTimeout         = 250 * time.Millisecond
)
