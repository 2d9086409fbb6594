// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dpm8600

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errShortResponse = errors.New("response shorter than preamble")
	errEmptyPayload  = errors.New("no digits after preamble")
)

// DecodeResponse extracts the value from a raw response line.
//
// The first PreambleLength characters are dropped without inspection. The
// converter prints the register as a digit string which may contain a stray
// '.'; every '.' is removed before the digits are parsed and scaled.
// Surrounding whitespace, including the CR of a CR LF line ending, is ignored.
func DecodeResponse(raw string, scale Scale) (float64, error) {
	if len(raw) < PreambleLength {
		return 0, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %d < %d", errShortResponse, len(raw), PreambleLength)}
	}

	digits := strings.TrimSpace(raw[PreambleLength:])
	digits = strings.ReplaceAll(digits, ".", "")
	if digits == "" {
		return 0, &DecodeError{Raw: raw, Err: errEmptyPayload}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, &DecodeError{Raw: raw, Err: err}
	}

	return Decode(n, scale), nil
}
