// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// eventLog keeps the most recent entries shown by the TUIs
type eventLog struct {
	entries []errorLogEntry
	max     int
}

func newEventLog(max int) eventLog {
	return eventLog{entries: make([]errorLogEntry, 0), max: max}
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Messages shared by the TUIs
type tuiTickMsg time.Time

type pollResultMsg pollResult

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

func tuiTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tuiTickMsg(t)
	})
}

// tuiStyles holds the lipgloss styles of the TUIs
type tuiStyles struct {
	title         lipgloss.Style
	header        lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	error         lipgloss.Style
	warning       lipgloss.Style
	box           lipgloss.Style
	focusedBox    lipgloss.Style
	button        lipgloss.Style
	focusedButton lipgloss.Style
}

func newTUIStyles() tuiStyles {
	s := tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),

		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),

		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),

		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),

		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),

		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),

		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),

		button: lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2),
	}
	s.focusedBox = s.box.BorderForeground(lipgloss.Color("12"))
	s.focusedButton = s.button.Background(lipgloss.Color("10"))
	return s
}

// renderEventLog renders the last height entries of l
func renderEventLog(st tuiStyles, l eventLog, height, width int) string {
	var s strings.Builder
	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")

	if height < 5 {
		height = 5
	}
	startIdx := len(l.entries) - height
	if startIdx < 0 {
		startIdx = 0
	}

	if len(l.entries) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(l.entries); i++ {
			entry := l.entries[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := st.warning
			if entry.isError {
				icon = "x"
				style = st.error
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				st.header.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return st.box.Width(width - 4).Render(s.String())
}

// renderStatisticsBar renders command counters on one line
func renderStatisticsBar(st tuiStyles, c dpm8600.Counters, width int) string {
	var answeredPercent float64
	if c.Attempts > 0 {
		answeredPercent = float64(c.Successes) * 100.0 / float64(c.Attempts)
	}

	errors := st.value.Render("0")
	if c.Errors() > 0 {
		errors = st.error.Render(fmt.Sprintf("%d", c.Errors()))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		st.label.Render("Commands:"), st.value.Render(fmt.Sprintf("%d", c.Commands)),
		st.label.Render("Answered:"), st.value.Render(fmt.Sprintf("%.1f%%", answeredPercent)),
		st.label.Render("Retries:"), st.value.Render(fmt.Sprintf("%d", c.Retries)),
		st.label.Render("Errors:"), errors,
		st.label.Render("RTT:"), st.value.Render(c.AverageRoundTrip().Round(time.Millisecond).String()),
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.1f cmd/s", c.CommandRate)),
	)

	return st.box.Width(width - 4).Render(content)
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	months := days / 30
	years := months / 12

	seconds %= 60
	minutes %= 60
	hours %= 24
	days %= 30
	months %= 12

	parts := []string{}
	parts = appendUnit(parts, years, "year")
	parts = appendUnit(parts, months, "month")
	parts = appendUnit(parts, days, "day")
	parts = appendUnit(parts, hours, "hour")
	parts = appendUnit(parts, minutes, "minute")
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, pluralize(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func appendUnit(parts []string, n uint64, unit string) []string {
	if n == 0 {
		return parts
	}
	return append(parts, pluralize(n, unit))
}

func pluralize(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// sessionUptime formats the time since start
func sessionUptime(start time.Time) string {
	return formatUptime(uint64(time.Since(start).Milliseconds()))
}
