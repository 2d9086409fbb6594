// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"fmt"
	"strconv"
)

// Address is a converter's bus address, 1 to 99.
type Address uint8

// NewAddress validates n as a bus address.
func NewAddress(n int) (Address, error) {
	if n < MinAddress || n > MaxAddress {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAddress, n)
	}
	return Address(n), nil
}

// ClampAddress returns n as an address, falling back to DefaultAddress when
// n is out of range. This is how the converter's reference tooling treats a
// bad address.
func ClampAddress(n int) Address {
	a, err := NewAddress(n)
	if err != nil {
		return DefaultAddress
	}
	return a
}

// ParseAddress parses a decimal address such as "1" or "07".
func ParseAddress(s string) (Address, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return NewAddress(n)
}

// Valid reports whether a is within [1, 99].
func (a Address) Valid() bool {
	return a >= MinAddress && a <= MaxAddress
}

// String renders the address as it appears in a frame: always two digits.
func (a Address) String() string {
	return FormatAddress(a)
}

// FormatAddress renders a as exactly two decimal digits ("01" .. "99").
func FormatAddress(a Address) string {
	return fmt.Sprintf("%02d", uint8(a)%100)
}
