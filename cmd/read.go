// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var (
	readFormat      string
	readLegacyCodes bool
)

var readCmd = &cobra.Command{
	Use:   "read [QUANTITY...]",
	Short: "Read converter registers",
	Long: `Read one or more registers of the converter at --address.

Quantities: voltage (v), current (c), power (p), status (s), max-current (m),
temperature (t), or "all" for a full snapshot. Without arguments "all" is read.

With --legacy-codes a failed read prints the signed status code of the
converter's reference tooling (-10 for voltage, -11 for current, ...) in place
of the value and the remaining quantities are still read.

Examples:
  dpmctl read --port /dev/ttyUSB0 voltage current
  dpmctl read --port /dev/ttyUSB0 --address 3 --format json`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().StringVarP(&readFormat, "format", "f", formatText, "Output format (text, json, yaml, cbor)")
	readCmd.Flags().BoolVar(&readLegacyCodes, "legacy-codes", false, "Print legacy status codes for failed reads")
}

// readValue is one register read in structured output
type readValue struct {
	Quantity string  `json:"quantity" yaml:"quantity" cbor:"quantity"`
	Value    float64 `json:"value" yaml:"value" cbor:"value"`
	Code     int     `json:"code,omitempty" yaml:"code,omitempty" cbor:"code,omitempty"`
	Error    string  `json:"error,omitempty" yaml:"error,omitempty" cbor:"error,omitempty"`
}

// parseReadArgs turns the command line into read kinds. A nil result means a
// full snapshot.
func parseReadArgs(args []string) ([]dpm8600.CommandKind, error) {
	if len(args) == 0 {
		return nil, nil
	}

	kinds := make([]dpm8600.CommandKind, 0, len(args))
	for _, arg := range args {
		if strings.EqualFold(arg, "all") {
			if len(args) > 1 {
				return nil, fmt.Errorf("\"all\" cannot be combined with other quantities")
			}
			return nil, nil
		}
		kind, err := dpm8600.ParseReadKind(arg)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(readFormat); err != nil {
		return err
	}
	kinds, err := parseReadArgs(args)
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

	if kinds == nil {
		var reading dpm8600.Reading
		err := b.Do(address, func(d *dpm8600.Driver) error {
			var err error
			reading, err = d.ReadAll(ctx)
			return err
		})
		if err != nil {
			if readLegacyCodes {
				fmt.Println(dpm8600.Code(err))
				os.Exit(1)
			}
			return err
		}

		if readFormat == formatText {
			fmt.Print(dpm8600.FormatReading(reading))
			return nil
		}
		return writeOutput(os.Stdout, readFormat, reading)
	}

	values := make([]readValue, 0, len(kinds))
	failed := false
	for _, kind := range kinds {
		var value float64
		err := b.Do(address, func(d *dpm8600.Driver) error {
			var err error
			value, err = d.Read(ctx, kind)
			return err
		})

		rv := readValue{Quantity: kind.Quantity().String(), Value: value}
		if err != nil {
			if !readLegacyCodes {
				return err
			}
			failed = true
			rv.Code = dpm8600.Code(err)
			rv.Value = float64(rv.Code)
			rv.Error = err.Error()
		}
		values = append(values, rv)

		if readFormat == formatText {
			if rv.Code != 0 {
				fmt.Printf("%-12s %d\n", rv.Quantity+":", rv.Code)
			} else {
				fmt.Printf("%-12s %s\n", rv.Quantity+":", dpm8600.FormatValue(kind, value))
			}
		}
	}

	if readFormat != formatText {
		if err := writeOutput(os.Stdout, readFormat, values); err != nil {
			return err
		}
	}
	if failed {
		os.Exit(1)
	}
	return nil
}
