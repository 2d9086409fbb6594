// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	tea "github.com/charmbracelet/bubbletea"
)

// TUI model
type monitorModel struct {
	connInfo       string
	addresses      []dpm8600.Address
	stats          *dpm8600.Statistics
	showAll        bool
	devices        map[dpm8600.Address]*deviceState
	log            eventLog
	started        time.Time
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

func initialMonitorModel(connInfo string, addresses []dpm8600.Address, stats *dpm8600.Statistics, showAll bool) monitorModel {
	return monitorModel{
		connInfo:  connInfo,
		addresses: addresses,
		stats:     stats,
		showAll:   showAll,
		devices:   make(map[dpm8600.Address]*deviceState),
		log:       newEventLog(100),
		started:   time.Now(),
		width:     80,
		height:    24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tuiTickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.log.add("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tuiTickMsg:
		// Redraw rates and uptime
		return m, tuiTickCmd()

	case pollResultMsg:
		var events []monitorEvent
		m.devices[msg.address], events = applyPollResult(m.devices[msg.address], pollResult(msg), m.showAll)
		for _, e := range events {
			m.log.add(e.message, e.isError)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.log.add(fmt.Sprintf("Connection lost - reconnecting... (%v)", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.log.add("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newTUIStyles()

	// Header
	var s strings.Builder
	s.WriteString(st.title.Render("DPMCTL - MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	mode := "Changes only"
	if m.showAll {
		mode = "All readings"
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | Mode: %s | r=reset stats q=quit", connStatus, mode)))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s\n\n", st.label.Render("Uptime:"), st.value.Render(sessionUptime(m.started))))

	// Statistics
	s.WriteString(renderStatisticsBar(st, m.stats.Snapshot(), m.width))
	s.WriteString("\n\n")

	// Converters
	s.WriteString(st.box.Width(m.width - 4).Render(m.renderDevices(st)))
	s.WriteString("\n\n")

	// Event log, reserving space for header, stats and device table
	logHeight := m.height - 14 - len(m.addresses)
	s.WriteString(renderEventLog(st, m.log, logHeight, m.width))

	return s.String()
}

func (m monitorModel) renderDevices(st tuiStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render(fmt.Sprintf("%-4s %-8s %10s %10s %10s %-4s %-4s %6s", "ADDR", "STATE", "VOLTAGE", "CURRENT", "POWER", "OUT", "MODE", "TEMP")))

	for _, address := range m.addresses {
		s.WriteString("\n")
		dev := m.devices[address]

		switch {
		case dev == nil:
			s.WriteString(st.header.Render(fmt.Sprintf("%-4s %-8s", address, "waiting")))
		case !dev.online:
			line := fmt.Sprintf("%-4s %-8s", address, "offline")
			if !dev.lastSeen.IsZero() {
				line += fmt.Sprintf(" (last seen %s)", dev.lastSeen.Format("15:04:05"))
			}
			s.WriteString(st.error.Render(line))
		default:
			r := dev.reading
			s.WriteString(st.value.Render(fmt.Sprintf("%-4s %-8s %8.2f V %8.3f A %8.2f W %-4s %-4s %4.0f°C",
				address, "online", r.Voltage, r.Current, r.Watts(), onOff(r.On()), r.Mode(), r.Temperature)))
		}
	}

	return s.String()
}
