package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"streamscraper/pkg/session"
)

const header = "┌─┐┌┬┐┬─┐┌─┐┌─┐┌┬┐┌─┐┌─┐┬─┐┌─┐┌─┐┌─┐┬─┐\n" +
	"└─┐ │ ├┬┘├┤ ├─┤│││└─┐│  ├┬┘├─┤├─┘├┤ ├┬┘\n" +
	"└─┘ ┴ ┴└─└─┘┴ ┴┴ ┴└─┘└─┘┴└─┴ ┴┴  └─┘┴└─"

// View renders the entire TUI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	width := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left, m.renderStatsPanel(width), m.renderRulesPanel(width))
	right := lipgloss.JoinVertical(lipgloss.Left, m.renderConnectionPanel(width), m.renderLogsPanel(width))

	sections := []string{
		headerStyle.Width(m.width).Render(header),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help, q to stop"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func stat(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

// renderStatsPanel renders the record counters
func (m Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" STREAM STATS ")

	var uptime time.Duration
	if !m.stats.StartedAt.IsZero() {
		uptime = m.now.Sub(m.stats.StartedAt)
	}
	partition := m.stats.Partition
	if partition == "" {
		partition = "-"
	}

	lines := []string{
		stat("Uptime:", formatDuration(uptime)),
		stat("Partition:", partition),
		stat("Records Today:", fmt.Sprintf("%d", m.stats.TodaysRecords)),
		stat("Records Total:", fmt.Sprintf("%d", m.stats.TotalRecords)),
		stat("Rate:", fmt.Sprintf("%.1f/min", m.Rate())),
		stat("Reconnects:", fmt.Sprintf("%d", m.stats.Reconnects)),
	}
	if m.stats.DecodeErrors > 0 {
		lines = append(lines, warningStyle.Render(fmt.Sprintf("%d malformed records", m.stats.DecodeErrors)))
	}
	if m.stats.DroppedRecords > 0 {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("%d records dropped", m.stats.DroppedRecords)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

// renderConnectionPanel renders the phase and any pending cooldown
func (m Model) renderConnectionPanel(width int) string {
	title := titleStyle.Render(" CONNECTION ")

	var status string
	switch m.phase {
	case session.PhaseStreaming:
		status = successStyle.Render("● STREAMING")
	case session.PhaseCooling:
		status = warningStyle.Render("◌ COOLING DOWN")
	case session.PhaseStopped:
		status = dimStyle.Render("■ STOPPED")
	case session.PhaseFailed:
		status = errorStyle.Render("✗ FAILED")
	default:
		status = m.spinner.View() + " " + statsValueStyle.Render("CONNECTING")
	}

	lines := []string{
		status,
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Rate limits:"),
			RateLimitStyle(m.stats.ConsecutiveRateLimitEvents).Render(
				fmt.Sprintf("%d in a row, %d total", m.stats.ConsecutiveRateLimitEvents, m.stats.TotalRateLimitEvents))),
	}

	if m.phase == session.PhaseCooling {
		bar := m.cooldown
		bar.Width = max(width-8, 10)
		lines = append(lines,
			stat("Reconnect at:", m.backoff.Until.Format("15:04:05")),
			stat("Remaining:", formatDuration(m.backoff.Until.Sub(m.now))),
			bar.ViewAs(m.CooldownProgress()),
		)
	}
	if m.lastErr != nil {
		lines = append(lines, dimStyle.Render(truncate("Last error: "+m.lastErr.Error(), width-6)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

// renderRulesPanel lists the active filter rules
func (m Model) renderRulesPanel(width int) string {
	title := titleStyle.Render(" RULES ")

	var lines []string
	for i, r := range m.rules {
		if i == 8 {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("... and %d more", len(m.rules)-i)))
			break
		}
		lines = append(lines, truncate(fmt.Sprintf("#%d %s", i+1, r), width-6))
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("No rules"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

// renderLogsPanel renders the logs panel
func (m Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" EVENTS ")

	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, dimStyle.Render(truncate(log.Message, width-25))))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = dimStyle.Render("No events yet...")
	}

	logsHeight := m.height - 30
	if logsHeight < 5 {
		logsHeight = 5
	}
	return panelStyle.Width(width).Height(logsHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderHelp renders the help panel
func (m Model) renderHelp() string {
	help := `
  Keys:
    q/Q      - Stop the stream and quit
    ctrl+l   - Clear the event log
    ?        - Toggle this help

  Status:
    ` + successStyle.Render("Green") + `    - Streaming
    ` + warningStyle.Render("Orange") + `   - Cooling down after an error
    ` + errorStyle.Render("Red") + `      - Failed or repeatedly rate limited
`
	return panelStyle.Width(m.width).Render(help)
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration formats a duration as hh:mm:ss or mm:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
