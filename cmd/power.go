// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var powerLegacyCodes bool

var powerCmd = &cobra.Command{
	Use:   "power on|off|status",
	Short: "Switch the output on or off",
	Long: `Switch the output of the converter at --address on or off, or show whether
it is on.

Examples:
  dpmctl power --port /dev/ttyUSB0 on
  dpmctl power --url ws://bridge.local/serial --address 4 off`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "status"},
	RunE:      runPower,
}

func init() {
	rootCmd.AddCommand(powerCmd)
	powerCmd.Flags().BoolVar(&powerLegacyCodes, "legacy-codes", false, "Print the legacy status code instead of an error")
}

// parsePowerArg returns the power register value to write; query is true
// for "status". Numbers are passed through unchecked so the driver rejects
// anything but 0 and 1 with ErrInvalidPowerValue.
func parsePowerArg(arg string) (value float64, query bool, err error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	switch arg {
	case "on":
		return 1, false, nil
	case "off":
		return 0, false, nil
	case "status":
		return 0, true, nil
	}

	value, err = strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, false, fmt.Errorf("unknown power state %q (use on, off, 1, 0 or status)", arg)
	}
	return value, false, nil
}

func runPower(cmd *cobra.Command, args []string) error {
	value, query, err := parsePowerArg(args[0])
	if err != nil {
		return err
	}
	address, err := cfg.DeviceAddress()
	if err != nil {
		return err
	}

	b, err := openBus(nil)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if query {
		var state float64
		err := b.Do(address, func(d *dpm8600.Driver) error {
			var err error
			state, err = d.Read(ctx, dpm8600.ReadPower)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s: output %s\n", address, dpm8600.FormatValue(dpm8600.ReadPower, state))
		return nil
	}

	err = b.Do(address, func(d *dpm8600.Driver) error {
		return d.Write(ctx, dpm8600.WritePower, value)
	})
	return reportWrite(address, "output "+onOff(value == 1), err, powerLegacyCodes)
}
