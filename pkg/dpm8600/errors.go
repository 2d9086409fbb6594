// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is wrapped by a CommandError when no terminated response
	// arrived within the listen window on any attempt.
	ErrTimeout = errors.New("no response within listen window")

	// ErrOutOfRange is wrapped by BoundaryError.
	ErrOutOfRange = errors.New("value outside register range")

	// ErrInvalidCommand is returned when a command kind is used with the
	// wrong operation (a write kind passed to Read, and so on).
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidPowerValue is returned when WritePower gets anything but 0 or 1.
	ErrInvalidPowerValue = errors.New("power value must be 0 or 1")

	// ErrInvalidAddress is returned for bus addresses outside [1, 99].
	ErrInvalidAddress = errors.New("address outside 1-99")

	// ErrNotDetected is wrapped by InitError when the converter answered
	// with a non-positive max current.
	ErrNotDetected = errors.New("converter not detected")
)

// BoundaryError reports a value whose scaled register value does not fit
// in [0, 65535]. Nothing is transmitted when it is returned.
type BoundaryError struct {
	Quantity Quantity
	Value    float64
	Scale    Scale
	Scaled   float64
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("%s %g (x%d = %.0f) outside %d-%d",
		e.Quantity, e.Value, e.Scale, e.Scaled, MinRegister, MaxRegister)
}

func (e *BoundaryError) Unwrap() error {
	return ErrOutOfRange
}

// DecodeError reports a response line that could not be parsed into a number.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response %q: %v", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CommandError is the failure of one logical command after the retry loop.
// Direction and Quantity identify which command failed; Err is ErrTimeout,
// a *DecodeError, or a transport error.
type CommandError struct {
	Direction Direction
	Quantity  Quantity
	Attempts  int
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Direction, e.Quantity, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// InitError is returned by Begin when the converter cannot be confirmed.
type InitError struct {
	Address    Address
	MaxCurrent float64
	Err        error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init converter %s: %v", e.Address, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Legacy status codes used by the converter's reference tooling.
const (
	CodeOK                     = 1
	CodeInit                   = -1
	CodeReadVoltage            = -10
	CodeReadCurrent            = -11
	CodeReadPower              = -12
	CodeReadStatus             = -13
	CodeReadMaxCurrent         = -14
	CodeReadTemperature        = -15
	CodeOutOfRange             = -16
	CodePowerValue             = -20
	CodeWriteCurrent           = -21
	CodeWritePower             = -22
	CodeWriteVoltage           = -23
	CodeWriteVoltageAndCurrent = -24
	CodeInvalidCommand         = -25
)

var readCodes = map[Quantity]int{
	QuantityVoltage:     CodeReadVoltage,
	QuantityCurrent:     CodeReadCurrent,
	QuantityPower:       CodeReadPower,
	QuantityStatus:      CodeReadStatus,
	QuantityMaxCurrent:  CodeReadMaxCurrent,
	QuantityTemperature: CodeReadTemperature,
}

var writeCodes = map[Quantity]int{
	QuantityVoltage:           CodeWriteVoltage,
	QuantityCurrent:           CodeWriteCurrent,
	QuantityPower:             CodeWritePower,
	QuantityVoltageAndCurrent: CodeWriteVoltageAndCurrent,
}

// Code maps err onto the signed status codes of the reference tooling.
// A nil error maps to CodeOK; errors not produced by this package map to
// CodeInvalidCommand.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}

	var initErr *InitError
	if errors.As(err, &initErr) {
		return CodeInit
	}

	var boundary *BoundaryError
	if errors.As(err, &boundary) {
		return CodeOutOfRange
	}

	if errors.Is(err, ErrInvalidPowerValue) {
		return CodePowerValue
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		codes := readCodes
		if cmdErr.Direction == Write {
			codes = writeCodes
		}
		if code, ok := codes[cmdErr.Quantity]; ok {
			return code
		}
	}

	return CodeInvalidCommand
}
