// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	monitorAddresses     string
	monitorInterval      time.Duration
	monitorStatsInterval time.Duration
	monitorShowAll       bool
	monitorTUI           bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll converters and report changes and errors",
	Long: `Poll one or more converters on a fixed interval and track their state.

Each poll reads voltage, current, output state, regulation mode and
temperature. The monitor reports:
  - Converters going offline and coming back
  - Output switching on or off, CV/CC mode changes
  - Timeouts, undecodable answers and transport errors
  - Command statistics (answer rate, retries, round trip time)

By default only changes and errors are displayed. Use --show-all to display
every reading.

With --metrics-listen the readings and command statistics are also exported
for Prometheus. The connection is re-established automatically when it
fails.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	flags := monitorCmd.Flags()
	flags.StringVar(&monitorAddresses, "addresses", "", "Addresses to poll, e.g. 1,3,5-7 (default --address)")
	flags.DurationVar(&monitorInterval, "interval", time.Second, "Poll interval")
	flags.DurationVar(&monitorStatsInterval, "stats-interval", 10*time.Second, "Statistics update interval (text mode)")
	flags.BoolVar(&monitorShowAll, "show-all", false, "Show every reading (not just changes and errors)")
	flags.BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
	addMetricsFlags(monitorCmd)
}

// monitorEvent is something worth reporting about a converter
type monitorEvent struct {
	message string
	isError bool
}

// deviceState is what the monitor last learned about one converter
type deviceState struct {
	reading  dpm8600.Reading
	err      error
	online   bool
	lastSeen time.Time
}

// applyPollResult folds res into prev and returns the events the change
// produced. prev may be nil for the first result of an address.
func applyPollResult(prev *deviceState, res pollResult, showAll bool) (*deviceState, []monitorEvent) {
	var events []monitorEvent
	next := &deviceState{err: res.err}
	if prev != nil {
		*next = *prev
		next.err = res.err
	}

	if res.err != nil {
		if prev == nil || prev.online {
			events = append(events, monitorEvent{fmt.Sprintf("%s offline: %v", res.address, res.err), true})
		}
		next.online = false
		return next, events
	}

	r := res.reading
	switch {
	case prev == nil || (!prev.online && prev.lastSeen.IsZero()):
		events = append(events, monitorEvent{fmt.Sprintf("%s online: output %s, %s", res.address, onOff(r.On()), r.Mode()), false})
	case !prev.online:
		events = append(events, monitorEvent{fmt.Sprintf("%s back online after %v", res.address, r.Timestamp.Sub(prev.lastSeen).Round(time.Second)), false})
	default:
		if prev.reading.On() != r.On() {
			events = append(events, monitorEvent{fmt.Sprintf("%s output %s -> %s", res.address, onOff(prev.reading.On()), onOff(r.On())), false})
		}
		if prev.reading.Mode() != r.Mode() {
			events = append(events, monitorEvent{fmt.Sprintf("%s mode %s -> %s", res.address, prev.reading.Mode(), r.Mode()), false})
		}
	}

	if showAll {
		events = append(events, monitorEvent{fmt.Sprintf("%s %.2f V %.3f A %.2f W %.0f°C",
			res.address, r.Voltage, r.Current, r.Watts(), r.Temperature), false})
	}

	next.reading = r
	next.online = true
	next.lastSeen = r.Timestamp
	return next, events
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func runMonitor(cmd *cobra.Command, args []string) error {
	addresses, err := targetAddresses(monitorAddresses)
	if err != nil {
		return err
	}
	if monitorInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if monitorStatsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	exporter, stats, opts := newMetricsExporter()
	b, err := openBus(stats, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p := &poller{
		bus:       b,
		addresses: addresses,
		interval:  monitorInterval,
		exporter:  exporter,
	}

	g, ctx := errgroup.WithContext(ctx)
	if exporter != nil {
		g.Go(func() error {
			return serveMetrics(ctx, exporter)
		})
	}

	if monitorTUI {
		g.Go(func() error {
			defer cancel()
			return runMonitorTUI(ctx, p, b)
		})
	} else {
		g.Go(func() error {
			return runMonitorText(ctx, p, b)
		})
	}

	return g.Wait()
}

// runMonitorTUI runs the poller behind the monitor TUI
func runMonitorTUI(ctx context.Context, p *poller, b *bus) error {
	m := initialMonitorModel(b.Info(), p.addresses, b.Stats(), monitorShowAll)
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	p.onResult = func(res pollResult) { prog.Send(pollResultMsg(res)) }
	p.onConnLost = func(err error) { prog.Send(connectionLostMsg{err: err}) }
	p.onReconnected = func(info string) { prog.Send(reconnectedMsg{connInfo: info}) }

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	go p.run(pollCtx)

	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runMonitorText prints events and periodic statistics
func runMonitorText(ctx context.Context, p *poller, b *bus) error {
	fmt.Printf("dpmctl - Monitor\n")
	fmt.Printf("Connection: %s\n", b.Info())
	fmt.Printf("Addresses: %v\n", p.addresses)
	fmt.Printf("Poll interval: %v, statistics interval: %v\n", p.interval, monitorStatsInterval)
	if monitorShowAll {
		fmt.Printf("Mode: All readings\n")
	} else {
		fmt.Printf("Mode: Changes and errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	states := make(map[dpm8600.Address]*deviceState)
	results := make(chan pollResult, 16)

	p.onResult = func(res pollResult) {
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}
	p.onConnLost = func(err error) {
		logger.WithError(err).Warn("connection lost, reconnecting")
		fmt.Printf("[%s] \033[1;31mCONNECTION LOST:\033[0m %v\n", time.Now().Format("15:04:05.000"), err)
	}
	p.onReconnected = func(info string) {
		logger.WithField("connection", info).Info("reconnected")
		fmt.Printf("[%s] \033[1;32mRECONNECTED:\033[0m %s\n", time.Now().Format("15:04:05.000"), info)
	}

	go p.run(ctx)

	statsTicker := time.NewTicker(monitorStatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(b.Stats().String())
			return nil

		case res := <-results:
			var events []monitorEvent
			states[res.address], events = applyPollResult(states[res.address], res, monitorShowAll)
			timestamp := time.Now().Format("15:04:05.000")
			for _, e := range events {
				if e.isError {
					fmt.Printf("[%s] \033[1;31mERROR:\033[0m %s\n", timestamp, e.message)
				} else {
					fmt.Printf("[%s] %s\n", timestamp, e.message)
				}
			}

		case <-statsTicker.C:
			// Print statistics
			fmt.Println()
			fmt.Print(b.Stats().String())
			fmt.Println()
		}
	}
}
