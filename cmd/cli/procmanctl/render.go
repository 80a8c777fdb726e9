package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-procman/pkg/domain"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	stateStyles = map[string]lipgloss.Style{
		"running":  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"starting": lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"stopping": lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"stopped":  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		"errored":  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

var statusColumns = []string{"ID", "NAME", "STATE", "PID", "UPTIME", "RESTARTS", "MEMORY", "LAST EXIT", "REASON"}

func statusRow(s domain.ProcessStatus, now time.Time) []string {
	pid := "-"
	if s.PID > 0 {
		pid = strconv.Itoa(s.PID)
	}

	uptime := "-"
	if s.State == "running" && s.Uptime > 0 {
		uptime = units.HumanDuration(s.Uptime)
	}
	if !s.RestartScheduledAt.IsZero() {
		wait := s.RestartScheduledAt.Sub(now).Round(time.Millisecond)
		if wait < 0 {
			wait = 0
		}
		uptime = "restart in " + wait.String()
	}

	memory := "-"
	if s.MemoryRSS > 0 {
		memory = units.BytesSize(float64(s.MemoryRSS))
	}

	lastExit := "-"
	if s.LastExitCode != nil {
		lastExit = strconv.Itoa(*s.LastExitCode)
	}

	reason := s.LastReason
	if reason == "" {
		reason = "-"
	}

	return []string{
		s.ID,
		s.Name,
		s.State,
		pid,
		uptime,
		fmt.Sprintf("%d/%d", s.RestartCount, s.TotalRestarts),
		memory,
		lastExit,
		reason,
	}
}

// renderStatus lays out statuses as aligned columns. Errors of errored
// processes are listed below the table.
func renderStatus(statuses []domain.ProcessStatus, now time.Time) string {
	if len(statuses) == 0 {
		return mutedStyle.Render("no processes configured")
	}

	rows := [][]string{statusColumns}
	for _, s := range statuses {
		rows = append(rows, statusRow(s, now))
	}

	widths := make([]int, len(statusColumns))
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var lines []string
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := cellStyle.Width(widths[i] + cellStyle.GetPaddingRight())
			switch {
			case r == 0:
				style = style.Inherit(headerStyle)
			case i == 2:
				if stateStyle, ok := stateStyles[cell]; ok {
					style = style.Inherit(stateStyle)
				}
			}
			cells[i] = style.Render(cell)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	for _, s := range statuses {
		if s.LastError != "" && s.State == "errored" {
			lines = append(lines, stateStyles["errored"].Render(fmt.Sprintf("%s: %s", s.ID, s.LastError)))
		}
	}

	return strings.Join(lines, "\n")
}
