// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// dpmctl - DPM8600 Power Converter Control
//
// A CLI tool for reading, controlling and monitoring DPM8600-series
// programmable power converters over their ASCII serial protocol.

package main

import (
	"os"

	"github.com/Thermoquad/dpmctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
