package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"streamscraper/pkg/backoff"
	"streamscraper/pkg/errors"
	"streamscraper/pkg/models"
	"streamscraper/pkg/session"
)

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the bubbletea model of the live monitor. It is only touched from
// the program's Update loop.
type Model struct {
	spinner  spinner.Model
	cooldown progress.Model

	rules    []string
	stats    models.Stats
	phase    session.Phase
	backoff  backoff.Status
	coolFrom time.Time
	lastErr  error
	done     bool

	now            time.Time
	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int
}

// NewModel creates a monitor for a session running with rules
func NewModel(rules []string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	return Model{
		spinner:        s,
		cooldown:       p,
		rules:          rules,
		phase:          session.PhaseConnecting,
		maxLogMessages: 50,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// ApplyEvent folds a session event into the model
func (m *Model) ApplyEvent(e session.Event) {
	m.stats = e.Stats
	m.phase = e.Phase
	m.backoff = e.Backoff
	if e.Time.After(m.now) {
		m.now = e.Time
	}

	switch e.Type {
	case session.EventStarted:
		m.AddLogMessage(e.Time, "INFO", fmt.Sprintf("Session started with %d rules", len(m.rules)))
	case session.EventConnected:
		if e.Stats.Reconnects > 0 {
			m.AddLogMessage(e.Time, "SUCCESS", fmt.Sprintf("Reconnected (attempt %d)", e.Stats.Reconnects))
		} else {
			m.AddLogMessage(e.Time, "SUCCESS", "Connected, streaming")
		}
	case session.EventRollover:
		if e.Rollover == nil {
			break
		}
		if e.Rollover.Initial() {
			m.AddLogMessage(e.Time, "INFO", "Writing partition "+e.Rollover.NewKey)
		} else {
			m.AddLogMessage(e.Time, "SUCCESS", fmt.Sprintf("Closed partition %s, now writing %s", e.Rollover.PreviousKey, e.Rollover.NewKey))
		}
	case session.EventDecodeError:
		m.AddLogMessage(e.Time, "WARN", "Malformed record skipped")
	case session.EventWriteFailure:
		m.lastErr = e.Err
		m.AddLogMessage(e.Time, "ERROR", fmt.Sprintf("Record dropped: %v", e.Err))
	case session.EventBackoff:
		m.lastErr = e.Err
		m.coolFrom = e.Time
		if e.Backoff.LastKind == errors.KindRateLimited {
			m.AddLogMessage(e.Time, "WARN", fmt.Sprintf("Rate limited (%d), reconnecting at %s",
				e.Stats.ConsecutiveRateLimitEvents, e.Backoff.Until.Format("15:04:05")))
		} else {
			m.AddLogMessage(e.Time, "WARN", fmt.Sprintf("Connection lost: %v", e.Err))
		}
	case session.EventStopped:
		m.done = true
		if e.Err != nil {
			m.lastErr = e.Err
			m.AddLogMessage(e.Time, "ERROR", "Stopped: "+e.Err.Error())
		} else {
			m.AddLogMessage(e.Time, "INFO", "Stopped")
		}
	}
}

// AddLogMessage adds a log message, keeping the most recent ones
func (m *Model) AddLogMessage(at time.Time, level, message string) {
	m.logMessages = append(m.logMessages, LogMessage{
		Time:    at,
		Level:   level,
		Message: message,
		Color:   levelColor(level),
	})
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Stats returns the latest session counters
func (m Model) Stats() models.Stats {
	return m.stats
}

// Rate returns records per minute since the session started
func (m Model) Rate() float64 {
	if m.stats.StartedAt.IsZero() {
		return 0
	}
	minutes := m.now.Sub(m.stats.StartedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(m.stats.TotalRecords) / minutes
}

// CooldownProgress returns how much of the current cooldown has elapsed, from 0 to 1
func (m Model) CooldownProgress() float64 {
	if m.phase != session.PhaseCooling || m.backoff.Until.IsZero() {
		return 0
	}
	total := m.backoff.Until.Sub(m.coolFrom)
	if total <= 0 {
		return 1
	}
	elapsed := m.now.Sub(m.coolFrom)
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= total:
		return 1
	default:
		return float64(elapsed) / float64(total)
	}
}
