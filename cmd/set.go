// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var setLegacyCodes bool

var setCmd = &cobra.Command{
	Use:   "set voltage|current VALUE\n  dpmctl set vc VOLTAGE CURRENT",
	Short: "Set the voltage and current limits",
	Long: `Set the output voltage limit (volts), the current limit (amps), or both in
a single frame with "vc".

Values are checked against the register range before anything is sent:
voltage may be 0-655.35 V and current 0-65.535 A.

Examples:
  dpmctl set --port /dev/ttyUSB0 voltage 12.5
  dpmctl set --port /dev/ttyUSB0 --address 2 vc 24 1.5`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.Flags().BoolVar(&setLegacyCodes, "legacy-codes", false, "Print the legacy status code instead of an error")
}

// setRequest is a parsed set command
type setRequest struct {
	kind    dpm8600.CommandKind
	voltage float64
	current float64
}

func parseSetArgs(args []string) (setRequest, error) {
	target := strings.ToLower(args[0])

	values := make([]float64, 0, 2)
	for _, arg := range args[1:] {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return setRequest{}, fmt.Errorf("invalid value %q", arg)
		}
		values = append(values, v)
	}

	switch target {
	case "voltage", "v":
		if len(values) != 1 {
			return setRequest{}, fmt.Errorf("set voltage takes one value")
		}
		return setRequest{kind: dpm8600.WriteVoltage, voltage: values[0]}, nil
	case "current", "c":
		if len(values) != 1 {
			return setRequest{}, fmt.Errorf("set current takes one value")
		}
		return setRequest{kind: dpm8600.WriteCurrent, current: values[0]}, nil
	case "vc", "voltage-and-current":
		if len(values) != 2 {
			return setRequest{}, fmt.Errorf("set vc takes a voltage and a current")
		}
		return setRequest{kind: dpm8600.WriteVoltageAndCurrent, voltage: values[0], current: values[1]}, nil
	default:
		return setRequest{}, fmt.Errorf("unknown setting %q (use voltage, current or vc)", args[0])
	}
}

// apply sends the request to d
func (r setRequest) apply(ctx context.Context, d *dpm8600.Driver) error {
	switch r.kind {
	case dpm8600.WriteVoltage:
		return d.Write(ctx, dpm8600.WriteVoltage, r.voltage)
	case dpm8600.WriteCurrent:
		return d.Write(ctx, dpm8600.WriteCurrent, r.current)
	default:
		return d.WriteVoltageAndCurrent(ctx, r.voltage, r.current)
	}
}

func (r setRequest) String() string {
	switch r.kind {
	case dpm8600.WriteVoltage:
		return fmt.Sprintf("voltage %.2f V", r.voltage)
	case dpm8600.WriteCurrent:
		return fmt.Sprintf("current %.3f A", r.current)
	default:
		return fmt.Sprintf("voltage %.2f V, current %.3f A", r.voltage, r.current)
	}
}

func runSet(cmd *cobra.Command, args []string) error {
	req, err := parseSetArgs(args)
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

	err = b.Do(address, func(d *dpm8600.Driver) error {
		return req.apply(ctx, d)
	})
	return reportWrite(address, req.String(), err, setLegacyCodes)
}

// reportWrite prints the outcome of a write command
func reportWrite(address dpm8600.Address, what string, err error, legacy bool) error {
	if legacy {
		fmt.Println(dpm8600.Code(err))
		if err != nil {
			os.Exit(1)
		}
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: set %s\n", address, what)
	return nil
}
