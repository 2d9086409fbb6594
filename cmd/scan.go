// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var (
	scanFrom int
	scanTo   int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find converters on the bus",
	Long: `Probe every address in a range and list the converters that answer.

Each address is probed by reading its max current register, with the usual
--retries and --timeout. Scanning all 99 addresses with the defaults takes up
to 99 x 3 x 250ms when nothing answers; narrow the range or lower --retries
to speed it up.

Examples:
  # Scan the whole bus with one attempt per address
  dpmctl scan --port /dev/ttyUSB0 --retries 1

  # Scan addresses 1-10 through a WebSocket bridge
  dpmctl scan --url ws://bridge.local/serial --from 1 --to 10

Exit codes:
  0 - At least one converter found
  1 - No converters found
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanFrom, "from", dpm8600.MinAddress, "First address to probe")
	scanCmd.Flags().IntVar(&scanTo, "to", dpm8600.MaxAddress, "Last address to probe")
}

type scanResult struct {
	address    dpm8600.Address
	maxCurrent float64
}

func runScan(cmd *cobra.Command, args []string) error {
	from, err := dpm8600.NewAddress(scanFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := dpm8600.NewAddress(scanTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	if from > to {
		return fmt.Errorf("--from %d is after --to %d", from, to)
	}

	b, err := openBus(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("dpmctl - Bus Scan\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Range: %s-%s\n\n", from, to)

	found := make([]scanResult, 0)
	for a := from; a <= to; a++ {
		if ctx.Err() != nil {
			fmt.Printf("\nInterrupted\n")
			break
		}

		var maxCurrent float64
		err := b.Do(a, func(d *dpm8600.Driver) error {
			var err error
			maxCurrent, err = d.Begin(ctx)
			return err
		})
		if isTransportError(err) {
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)
		}
		if err != nil {
			logger.WithField("address", a.String()).WithError(err).Debug("no converter")
			continue
		}

		found = append(found, scanResult{address: a, maxCurrent: maxCurrent})
		fmt.Printf("Converter found:\n")
		fmt.Printf("  Address: %s\n", a)
		fmt.Printf("  Max Current: %s\n", dpm8600.FormatValue(dpm8600.ReadMaxCurrent, maxCurrent))
	}

	// Summary
	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Converters found: %d\n", len(found))

	if len(found) == 0 {
		fmt.Printf("No converters answered. Check wiring, baud rate and converter power.\n")
		os.Exit(1)
	}

	return nil
}
