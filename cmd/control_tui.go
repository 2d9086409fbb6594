// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/dpmctl/pkg/dpm8600"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// commandTimeout bounds a command issued from the TUI. The clock starts
// before the bus is taken, so a command that waited out its timeout behind
// a poll fails without transmitting.
const commandTimeout = 10 * time.Second

// Focus states
const (
	focusDeviceList = iota
	focusVoltageInput
	focusCurrentInput
	focusApplyButton
	focusPowerButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// converter is one entry in the converter list
type converter struct {
	address dpm8600.Address
	state   *deviceState
}

// Implement list.Item interface
func (c converter) Title() string { return fmt.Sprintf("Converter %s", c.address) }
func (c converter) Description() string {
	switch {
	case c.state == nil:
		return "waiting"
	case !c.state.online:
		return "offline"
	default:
		r := c.state.reading
		return fmt.Sprintf("%.2f V %s %s", r.Voltage, onOff(r.On()), r.Mode())
	}
}
func (c converter) FilterValue() string { return c.address.String() }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Bus for sending commands
	bus      *bus
	connInfo string

	// Converter tracking
	addresses  []dpm8600.Address
	devices    map[dpm8600.Address]*deviceState
	deviceList list.Model

	// Monitoring
	stats   *dpm8600.Statistics
	log     eventLog
	started time.Time

	// Control
	voltageInput textinput.Model
	currentInput textinput.Model
	focusedField int
	pending      int // commands in flight

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type commandResultMsg struct {
	address     dpm8600.Address
	description string
	err         error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(b *bus, addresses []dpm8600.Address) controlModel {
	// Initialize text inputs for the limits
	vi := textinput.New()
	vi.Placeholder = "12.00"
	vi.CharLimit = 7
	vi.Width = 10

	ci := textinput.New()
	ci.Placeholder = "1.000"
	ci.CharLimit = 7
	ci.Width = 10

	// Initialize converter list
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 30, 10)
	deviceList.Title = "Converters"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	m := controlModel{
		bus:          b,
		connInfo:     b.Info(),
		addresses:    addresses,
		devices:      make(map[dpm8600.Address]*deviceState),
		deviceList:   deviceList,
		stats:        b.Stats(),
		log:          newEventLog(100),
		started:      time.Now(),
		voltageInput: vi,
		currentInput: ci,
		focusedField: focusDeviceList,
		width:        80,
		height:       24,
	}
	m.updateDeviceList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tuiTickCmd()
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case tuiTickMsg:
		return m, tuiTickCmd()

	case pollResultMsg:
		var events []monitorEvent
		m.devices[msg.address], events = applyPollResult(m.devices[msg.address], pollResult(msg), false)
		for _, e := range events {
			m.log.add(e.message, e.isError)
		}
		m.updateDeviceList()

	case commandResultMsg:
		m.pending--
		if msg.err != nil {
			m.log.add(fmt.Sprintf("%s: %s failed: %v", msg.address, msg.description, msg.err), true)
		} else {
			m.log.add(fmt.Sprintf("%s: %s", msg.address, msg.description), false)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.log.add(fmt.Sprintf("Connection lost - reconnecting... (%v)", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.log.add("Reconnected", false)
	}

	// Update child components
	var cmd tea.Cmd
	switch m.focusedField {
	case focusVoltageInput:
		m.voltageInput, cmd = m.voltageInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusCurrentInput:
		m.currentInput, cmd = m.currentInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusDeviceList:
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		// q is a valid keystroke only outside the inputs
		if msg.String() == "ctrl+c" || !m.inputFocused() {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		return m.handleEnter()

	case "up", "k", "down", "j":
		if m.focusedField == focusDeviceList {
			m.deviceList, _ = m.deviceList.Update(msg)
			return m, nil
		}
	}

	// Pass through to focused component
	var cmd tea.Cmd
	switch m.focusedField {
	case focusVoltageInput:
		m.voltageInput, cmd = m.voltageInput.Update(msg)
	case focusCurrentInput:
		m.currentInput, cmd = m.currentInput.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// Pass mouse events to the list
	m.deviceList, _ = m.deviceList.Update(msg)

	return m, nil
}

func (m *controlModel) inputFocused() bool {
	return m.focusedField == focusVoltageInput || m.focusedField == focusCurrentInput
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	if m.getSelected() == nil {
		m.focusedField = focusDeviceList
		return m
	}

	// Cycle through focus states
	maxFocus := focusPowerButton
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	// Update focus state
	m.voltageInput.Blur()
	m.currentInput.Blur()
	switch m.focusedField {
	case focusVoltageInput:
		m.voltageInput.Focus()
	case focusCurrentInput:
		m.currentInput.Focus()
	}

	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	// Don't allow control commands while connection is lost
	if m.connectionLost {
		m.log.add("Cannot send command: connection lost", true)
		return m, nil
	}

	switch m.focusedField {
	case focusVoltageInput, focusCurrentInput, focusApplyButton:
		return m.applyLimits()
	case focusPowerButton:
		return m.togglePower()
	}
	return m, nil
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newTUIStyles()
	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("DPMCTL CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=apply", connStatus)))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s\n\n", st.label.Render("Uptime:"), st.value.Render(sessionUptime(m.started))))

	// Layout: left panel (converters) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	// Converter list panel
	listStyle := st.box.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = st.focusedBox.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())

	// Control panel
	controlPanel := st.box.Width(rightWidth).Render(m.renderControlPanel(st))

	// Join panels horizontally
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(renderStatisticsBar(st, m.stats.Snapshot(), m.width))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(renderEventLog(st, m.log, 8, m.width))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(st tuiStyles) string {
	var s strings.Builder

	selected := m.getSelected()
	if selected == nil {
		s.WriteString(st.header.Render("No converter selected"))
		return s.String()
	}

	// Selected converter info
	s.WriteString(fmt.Sprintf("%s Converter %s\n", st.label.Render("Selected:"), selected.address))

	dev := selected.state
	switch {
	case dev == nil:
		s.WriteString(st.header.Render("Waiting for first reading..."))
		s.WriteString("\n\n")
	case !dev.online:
		s.WriteString(st.error.Render(fmt.Sprintf("Offline: %v", dev.err)))
		s.WriteString("\n\n")
	default:
		r := dev.reading
		s.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s\n",
			st.label.Render("Output:"), st.value.Render(fmt.Sprintf("%.2f V", r.Voltage)),
			st.value.Render(fmt.Sprintf("%.3f A", r.Current)),
			st.value.Render(fmt.Sprintf("%.2f W", r.Watts())),
			st.label.Render("Temp:"), st.value.Render(fmt.Sprintf("%.0f°C", r.Temperature))))
		s.WriteString(fmt.Sprintf("%s %s  %s %s\n\n",
			st.label.Render("State:"), st.value.Render(onOff(r.On())),
			st.label.Render("Mode:"), st.value.Render(r.Mode().String())))
	}

	// Limit inputs
	s.WriteString(st.label.Render("Voltage (V): "))
	s.WriteString(m.renderInput(m.voltageInput, focusVoltageInput))
	s.WriteString("  ")
	s.WriteString(st.label.Render("Current (A): "))
	s.WriteString(m.renderInput(m.currentInput, focusCurrentInput))
	s.WriteString("\n\n")

	// Buttons
	s.WriteString(m.renderButton(st, "[ Apply Limits ]", focusApplyButton))
	s.WriteString(" ")
	powerText := "[ Output On ]"
	if dev != nil && dev.online && dev.reading.On() {
		powerText = "[ Output Off ]"
	}
	s.WriteString(m.renderButton(st, powerText, focusPowerButton))

	if m.pending > 0 {
		s.WriteString("  ")
		s.WriteString(st.warning.Render("sending..."))
	}

	return s.String()
}

func (m controlModel) renderInput(input textinput.Model, field int) string {
	if m.focusedField == field {
		return input.View()
	}

	// Show as plain text when not focused
	val := input.Value()
	if val == "" {
		val = "-"
	}
	return fmt.Sprintf("[%s]", val)
}

func (m controlModel) renderButton(st tuiStyles, text string, field int) string {
	if m.focusedField == field {
		return st.focusedButton.Render(text)
	}
	return st.button.Render(text)
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// limitsRequest builds the write for the limit inputs. An empty input keeps
// that limit unchanged; both filled are written in one frame.
func limitsRequest(voltage, current string) (setRequest, error) {
	voltage = strings.TrimSpace(voltage)
	current = strings.TrimSpace(current)

	switch {
	case voltage != "" && current != "":
		return parseSetArgs([]string{"vc", voltage, current})
	case voltage != "":
		return parseSetArgs([]string{"voltage", voltage})
	case current != "":
		return parseSetArgs([]string{"current", current})
	default:
		return setRequest{}, fmt.Errorf("enter a voltage and/or a current")
	}
}

func (m *controlModel) applyLimits() (tea.Model, tea.Cmd) {
	selected := m.getSelected()
	if selected == nil {
		return m, nil
	}

	req, err := limitsRequest(m.voltageInput.Value(), m.currentInput.Value())
	if err != nil {
		m.log.add(err.Error(), true)
		return m, nil
	}

	return m, m.runCommand(selected.address, "set "+req.String(), req.apply)
}

func (m *controlModel) togglePower() (tea.Model, tea.Cmd) {
	selected := m.getSelected()
	if selected == nil {
		return m, nil
	}

	on := true
	if dev := selected.state; dev != nil && dev.online && dev.reading.On() {
		on = false
	}

	return m, m.runCommand(selected.address, "output "+onOff(on), func(ctx context.Context, d *dpm8600.Driver) error {
		return d.Power(ctx, on)
	})
}

// runCommand returns a tea.Cmd running fn on the bus. The result arrives as
// a commandResultMsg.
func (m *controlModel) runCommand(address dpm8600.Address, description string, fn func(ctx context.Context, d *dpm8600.Driver) error) tea.Cmd {
	m.pending++
	b := m.bus

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		err := b.Do(address, func(d *dpm8600.Driver) error {
			return fn(ctx, d)
		})
		return commandResultMsg{address: address, description: description, err: err}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) getSelected() *converter {
	if len(m.addresses) == 0 {
		return nil
	}

	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.addresses) {
		return nil
	}

	address := m.addresses[idx]
	return &converter{address: address, state: m.devices[address]}
}

func (m *controlModel) updateDeviceList() {
	items := make([]list.Item, len(m.addresses))
	for i, address := range m.addresses {
		items[i] = converter{address: address, state: m.devices[address]}
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	// Adjust list size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(28, listHeight)
}
