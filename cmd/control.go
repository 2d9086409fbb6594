// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	controlAddresses string
	controlInterval  time.Duration
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling converters",
	Long: `Control DPM8600 converters via an interactive terminal UI.

This command provides a TUI for monitoring and controlling converters
connected via WebSocket bridge or UART (direct connection).

Features:
  - Live readings for every polled address
  - Voltage and current limits, applied in one frame
  - Output on/off
  - Statistics tracking
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the converter list and the control panel. Arrow keys
navigate the converter list. Leave a limit empty to keep its current value.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().StringVar(&controlAddresses, "addresses", "", "Addresses to control, e.g. 1,3,5-7 (default --address)")
	controlCmd.Flags().DurationVar(&controlInterval, "interval", time.Second, "Poll interval")
}

func runControl(cmd *cobra.Command, args []string) error {
	addresses, err := targetAddresses(controlAddresses)
	if err != nil {
		return err
	}
	if controlInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	// Open initial connection (serial or WebSocket)
	b, err := openBus(nil)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	// Create TUI model with the bus for sending commands
	m := initialControlModel(b, addresses)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	// Poll in the background; commands from the TUI interleave on the bus
	poll := &poller{
		bus:           b,
		addresses:     addresses,
		interval:      controlInterval,
		onResult:      func(res pollResult) { p.Send(pollResultMsg(res)) },
		onConnLost:    func(err error) { p.Send(connectionLostMsg{err: err}) },
		onReconnected: func(info string) { p.Send(reconnectedMsg{connInfo: info}) },
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	go poll.run(pollCtx)

	// Run TUI
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
