// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var sniffDuration time.Duration

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Log bus traffic without transmitting",
	Long: `Listen on the connection and print every line that arrives, without sending
anything. Useful for watching another controller talk to the converters, or
for checking the stability of a WebSocket bridge.

A heartbeat is printed every second nothing arrives.

Exit codes:
  0 - Listened for the full duration (or until Ctrl+C)
  1 - The connection failed while listening
  2 - Connection error`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().DurationVar(&sniffDuration, "duration", 0, "How long to listen (0 = until Ctrl+C)")
}

func runSniff(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("dpmctl - Bus Sniffer\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if sniffDuration > 0 {
		fmt.Printf("Duration: %v\n", sniffDuration)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	start := time.Now()
	lines := 0
	bytesReceived := 0
	pending := ""

	for ctx.Err() == nil {
		if sniffDuration > 0 && time.Since(start) >= sniffDuration {
			break
		}

		line, err := dpm8600.Listen(ctx, conn, time.Second)
		switch {
		case err == nil:
			line = pending + line
			pending = ""
			lines++
			bytesReceived += len(line) + 1
			fmt.Printf("[%s] %q\n", time.Now().Format("15:04:05.000"), line)

		case errors.Is(err, dpm8600.ErrTimeout):
			// A line may straddle two windows
			pending += line
			if line == "" {
				fmt.Printf("[%s] Still listening... (%d lines)\n", time.Now().Format("15:04:05.000"), lines)
			}

		case ctx.Err() != nil:
			// Interrupted

		default:
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			printSniffSummary(time.Since(start), lines, bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)
		}
	}

	printSniffSummary(time.Since(start), lines, bytesReceived)
	return nil
}

func printSniffSummary(elapsed time.Duration, lines, bytesReceived int) {
	fmt.Printf("\n--- Sniff Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Round(time.Second))
	fmt.Printf("Lines received: %d\n", lines)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
}
