// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltoctl Authors

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ltoflash/ltoctl/pkg/device"
	"github.com/ltoflash/ltoctl/pkg/locutus"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching a cartridge",
	Long: `Poll the cartridge and show its status in an interactive terminal UI.

Features:
  - Device status and hardware flags
  - File system usage and pending changes
  - Command statistics (NAKs, timeouts, CRC errors, skipped beacon bytes)
  - Event log

Keys: q quit, g garbage collect, e fetch error log, r reset statistics.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Polling interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	dev, conn, connInfo, err := OpenDevice()
	if err != nil {
		return err
	}
	defer conn.Close()

	m := initialMonitorModel(cmd.Context(), dev, connInfo, monitorInterval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

const maxMonitorLogEntries = 100

type monitorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctx      context.Context
	dev      *device.Device
	connInfo string
	interval time.Duration

	spinner spinner.Model
	busy    bool

	status     *locutus.DeviceStatus
	fsStats    *locutus.FileSystemStatistics
	dirty      locutus.DirtyFlags
	revisions  *locutus.FirmwareRevisions
	lastPoll   time.Time
	pollErrors int

	eventLog []monitorLogEntry

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type pollResultMsg struct {
	status    locutus.DeviceStatus
	fsStats   locutus.FileSystemStatistics
	dirty     locutus.DirtyFlags
	revisions *locutus.FirmwareRevisions
	err       error
}

type actionResultMsg struct {
	message string
	err     error
}

func initialMonitorModel(ctx context.Context, dev *device.Device, connInfo string, interval time.Duration) monitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return monitorModel{
		ctx:      ctx,
		dev:      dev,
		connInfo: connInfo,
		interval: interval,
		spinner:  s,
		width:    80,
		height:   24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll(true))
}

func monitorTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// poll queries the device in the background
func (m *monitorModel) poll(withRevisions bool) tea.Cmd {
	m.busy = true
	ctx, dev := m.ctx, m.dev
	return func() tea.Msg {
		var r pollResultMsg
		if r.status, r.err = dev.Ping(ctx); r.err != nil {
			return r
		}
		if r.fsStats, r.err = dev.FileSystemStatistics(ctx); r.err != nil {
			return r
		}
		if r.dirty, r.err = dev.DirtyFlags(ctx); r.err != nil {
			return r
		}
		if withRevisions {
			revisions, err := dev.FirmwareRevisions(ctx)
			if err != nil {
				r.err = err
				return r
			}
			r.revisions = &revisions
		}
		return r
	}
}

// action runs a user-requested command in the background
func (m *monitorModel) action(name string, fn func(context.Context, *device.Device) (string, error)) tea.Cmd {
	m.busy = true
	m.addLogEntry(fmt.Sprintf("Running %s...", name), false)
	ctx, dev := m.ctx, m.dev
	return func() tea.Msg {
		message, err := fn(ctx, dev)
		if err != nil {
			return actionResultMsg{err: fmt.Errorf("%s: %w", name, err)}
		}
		return actionResultMsg{message: message}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case monitorTickMsg:
		if m.busy {
			return m, monitorTickCmd(m.interval)
		}
		cmd := m.poll(m.revisions == nil)
		return m, cmd

	case pollResultMsg:
		m.busy = false
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.pollErrors++
			m.addLogEntry(msg.err.Error(), true)
		} else {
			if m.status == nil || m.status.HardwareFlags != msg.status.HardwareFlags {
				m.addLogEntry("Hardware: "+locutus.FormatHardwareFlags(msg.status.HardwareFlags), false)
			}
			m.status = &msg.status
			m.fsStats = &msg.fsStats
			m.dirty = msg.dirty
			if msg.revisions != nil {
				m.revisions = msg.revisions
			}
		}
		return m, monitorTickCmd(m.interval)

	case actionResultMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		} else {
			m.addLogEntry(msg.message, false)
		}
		return m, monitorTickCmd(m.interval)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "g":
		if m.busy {
			return m, nil
		}
		cmd := m.action("garbage collect", func(ctx context.Context, dev *device.Device) (string, error) {
			if err := dev.GarbageCollect(ctx); err != nil {
				return "", err
			}
			return "Garbage collection complete", nil
		})
		return m, cmd

	case "e":
		if m.busy {
			return m, nil
		}
		cmd := m.action("error log", func(ctx context.Context, dev *device.Device) (string, error) {
			log, err := dev.ErrorLog(ctx)
			if err != nil {
				return "", err
			}
			if len(log.Errors) == 0 {
				return "Error log empty", nil
			}
			ids := make([]string, len(log.Errors))
			for i, id := range log.Errors {
				ids[i] = fmt.Sprintf("0x%04X", id)
			}
			return "Error log: " + strings.Join(ids, " "), nil
		})
		return m, cmd

	case "r":
		m.dev.ResetStatistics()
		m.pollErrors = 0
		m.addLogEntry("Statistics reset", false)
	}
	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, monitorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxMonitorLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxMonitorLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("LTOCTL - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | q quit, g gc, e error log, r reset", m.connInfo)))
	s.WriteString("\n\n")

	if m.busy {
		s.WriteString(m.spinner.View() + " ")
	}
	if m.status == nil {
		s.WriteString(warningStyle.Render("Waiting for device..."))
		s.WriteString("\n\n")
	} else {
		var info strings.Builder
		fmt.Fprintf(&info, "%s %s\n", labelStyle.Render("Device:"), valueStyle.Render(m.status.UniqueIDString()))
		fmt.Fprintf(&info, "%s %s   %s %s\n",
			labelStyle.Render("Hardware:"), valueStyle.Render(locutus.FormatHardwareFlags(m.status.HardwareFlags)),
			labelStyle.Render("Config:"), valueStyle.Render(fmt.Sprintf("0x%08X", m.status.ConfigurationFlags)))
		if m.revisions != nil {
			fmt.Fprintf(&info, "%s %s", labelStyle.Render("Firmware:"),
				valueStyle.Render(strings.TrimSpace(locutus.FormatFirmwareRevisions(*m.revisions))))
		}
		s.WriteString(boxStyle.Render(strings.TrimRight(info.String(), "\n")))
		s.WriteString("\n")
	}

	if m.fsStats != nil {
		var fs strings.Builder
		used := m.fsStats.VirtualBlocksTotal - m.fsStats.VirtualBlocksAvailable
		fmt.Fprintf(&fs, "%s %s   %s %s\n",
			labelStyle.Render("Blocks used:"), valueStyle.Render(fmt.Sprintf("%d / %d", used, m.fsStats.VirtualBlocksTotal)),
			labelStyle.Render("Erasures:"), valueStyle.Render(fmt.Sprintf("%d", m.fsStats.PhysicalSectorErasures)))
		dirtyStyle := valueStyle
		if m.dirty != 0 {
			dirtyStyle = warningStyle
		}
		fmt.Fprintf(&fs, "%s %s", labelStyle.Render("Pending:"), dirtyStyle.Render(locutus.FormatDirtyFlags(m.dirty)))
		s.WriteString(boxStyle.Render(fs.String()))
		s.WriteString("\n")
	}

	// Statistics
	stats := m.dev.Statistics()
	stats.CalculateRates()
	var st strings.Builder
	fmt.Fprintf(&st, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("Commands:"), valueStyle.Render(fmt.Sprintf("%d", stats.Commands)),
		labelStyle.Render("OK:"), valueStyle.Render(fmt.Sprintf("%d", stats.Succeeded)),
		labelStyle.Render("Failed:"), func() string {
			if stats.Failures() > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", stats.Failures()))
			}
			return valueStyle.Render("0")
		}())
	fmt.Fprintf(&st, "%s %d   %s %d   %s %d   %s %d\n",
		labelStyle.Render("NAK:"), stats.Naks,
		labelStyle.Render("Timeout:"), stats.AckTimeouts,
		labelStyle.Render("CRC:"), stats.CRCErrors,
		labelStyle.Render("Status:"), stats.StatusErrors)
	fmt.Fprintf(&st, "%s %s   %s %s",
		labelStyle.Render("Skipped:"), headerStyle.Render(fmt.Sprintf("%d beacon, %d noise", stats.BeaconBytes, stats.NoiseBytes)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f cmds/s", stats.CommandRate)))
	s.WriteString(boxStyle.Render(st.String()))
	s.WriteString("\n\n")

	// Event log, newest last, sized to the window
	s.WriteString(labelStyle.Render("Events:"))
	s.WriteString("\n")
	lines := max(m.height-22, 3)
	start := max(len(m.eventLog)-lines, 0)
	for _, entry := range m.eventLog[start:] {
		line := fmt.Sprintf("%s %s", entry.timestamp.Format("15:04:05"), entry.message)
		if entry.isError {
			s.WriteString(errorStyle.Render(line))
		} else {
			s.WriteString(headerStyle.Render(line))
		}
		s.WriteString("\n")
	}

	return s.String()
}
