// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/spf13/cobra"
)

var rawScale int

var rawCmd = &cobra.Command{
	Use:   "raw FRAME",
	Short: "Send a raw frame and show the response",
	Long: `Transmit FRAME followed by a newline and print the response line.

The frame is sent as given, with the usual retries when nothing answers. Use
--scale to also decode the response payload the way a register read would.

Examples:
  # Read the output voltage of address 1 by hand
  dpmctl raw --port /dev/ttyUSB0 ":01r30=0," --scale 100

  # Switch the output of address 2 off
  dpmctl raw --port /dev/ttyUSB0 ":02w12=0,"`,
	Args: cobra.ExactArgs(1),
	RunE: runRaw,
}

func init() {
	rootCmd.AddCommand(rawCmd)
	rawCmd.Flags().IntVar(&rawScale, "scale", 0, "Decode the response with this scale (1, 100 or 1000)")
}

func runRaw(cmd *cobra.Command, args []string) error {
	frame := strings.TrimRight(args[0], "\r\n")
	if frame == "" {
		return fmt.Errorf("empty frame")
	}
	if rawScale < 0 {
		return fmt.Errorf("--scale must be positive, got %d", rawScale)
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
		return err
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var response string
	err = b.Do(address, func(d *dpm8600.Driver) error {
		var err error
		response, err = d.Exchange(ctx, frame)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Print(dpm8600.FormatExchange(frame, response, rtt))

	if rawScale > 0 {
		value, err := dpm8600.DecodeResponse(response, dpm8600.Scale(rawScale))
		if err != nil {
			return err
		}
		fmt.Printf("   value=%g\n", value)
	}
	return nil
}
