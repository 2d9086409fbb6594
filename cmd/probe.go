// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a converter answers at the configured address",
	Long: `Read the max current register of the converter at --address and confirm
it is positive.

Exit codes:
  0 - Converter detected
  1 - No converter answered, or it reported a max current of zero
  2 - Connection error

Useful for testing wiring and the WebSocket bridge.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	address, err := cfg.DeviceAddress()
	if err != nil {
		return err
	}

	b, err := openBus(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("dpmctl - Probe\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Address: %s (%d attempts, %v each)\n\n", address, cfg.Device.MaxRetry, cfg.Device.ListenTimeout)

	var maxCurrent float64
	err = b.Do(address, func(d *dpm8600.Driver) error {
		maxCurrent, err = d.Begin(ctx)
		return err
	})

	switch {
	case err == nil:
		fmt.Printf("SUCCESS: Converter detected\n")
		fmt.Printf("  Max Current: %s\n", dpm8600.FormatValue(dpm8600.ReadMaxCurrent, maxCurrent))
		os.Exit(0)

	case isTransportError(err):
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case errors.Is(err, dpm8600.ErrNotDetected):
		fmt.Fprintf(os.Stderr, "NOT DETECTED: Converter reported max current %s\n",
			dpm8600.FormatValue(dpm8600.ReadMaxCurrent, maxCurrent))
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: %v\n", err)
		os.Exit(1)
	}

	return nil
}
