// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trip time to a converter",
	Long: `Read the max current register of the converter at --address repeatedly and
report the round trip time of each answer.

This is useful for verifying:
  - The converter answers at the expected address
  - The serial link or WebSocket bridge passes traffic both ways
  - How close answers come to the --timeout listen window

Exit codes:
  0 - All pings answered
  1 - One or more pings failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", pingCount)
	}

	address, err := cfg.DeviceAddress()
	if err != nil {
		return err
	}

	var rtt time.Duration
	b, err := openBus(nil, dpm8600.WithRoundTripHook(func(_ dpm8600.Address, d time.Duration) {
		rtt = d
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("dpmctl - Ping\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Address: %s\n", address)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var minRTT, maxRTT, totalRTT time.Duration

	sent := 0
	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)
		sent++

		var maxCurrent float64
		err := b.Do(address, func(d *dpm8600.Driver) error {
			var err error
			maxCurrent, err = d.Read(ctx, dpm8600.ReadMaxCurrent)
			return err
		})

		switch {
		case err == nil:
			fmt.Printf("answer from %s, max current=%s, rtt=%v\n",
				address, dpm8600.FormatValue(dpm8600.ReadMaxCurrent, maxCurrent), rtt.Round(time.Millisecond))
			successCount++
			totalRTT += rtt
			if minRTT == 0 || rtt < minRTT {
				minRTT = rtt
			}
			if rtt > maxRTT {
				maxRTT = rtt
			}

		case isTransportError(err):
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)

		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			select {
			case <-ctx.Done():
			case <-time.After(pingInterval):
			}
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d answers received, %.0f%% loss\n",
		sent, successCount, float64(sent-successCount)/float64(sent)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			minRTT.Round(time.Millisecond),
			(totalRTT / time.Duration(successCount)).Round(time.Millisecond),
			maxRTT.Round(time.Millisecond))
	}

	if failCount > 0 || successCount < pingCount {
		os.Exit(1)
	}
	return nil
}
