// Package tui is the live terminal monitor for a stream session.
package tui

import (
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"streamscraper/pkg/session"
)

// eventBuffer bounds the events waiting for the UI. Record events are dropped
// when it is full; every event carries a full stats snapshot.
const eventBuffer = 256

// TUI runs the monitor program and feeds it session events. It implements
// session.Observer without ever blocking the session.
type TUI struct {
	program *tea.Program
	events  chan session.Event
	stop    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// New creates a monitor for a session running with rules
func New(rules []string, opts ...tea.ProgramOption) *TUI {
	model := NewModel(rules)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(&model, opts...),
		events:  make(chan session.Event, eventBuffer),
		stop:    make(chan struct{}),
	}
}

// OnEvent queues e for the UI
func (t *TUI) OnEvent(e session.Event) {
	if e.Type == session.EventRecord {
		select {
		case t.events <- e:
		default:
			t.dropped.Add(1)
		}
		return
	}
	select {
	case t.events <- e:
	case <-t.stop:
	}
}

// Run shows the monitor until the user quits or the session stops
func (t *TUI) Run() error {
	go t.forward()
	defer t.once.Do(func() { close(t.stop) })

	_, err := t.program.Run()
	return err
}

// Quit closes the monitor
func (t *TUI) Quit() {
	t.program.Quit()
}

// Dropped returns the number of record events skipped because the UI lagged
func (t *TUI) Dropped() int64 {
	return t.dropped.Load()
}

func (t *TUI) forward() {
	for {
		select {
		case e := <-t.events:
			t.program.Send(EventMsg{Event: e})
		case <-t.stop:
			return
		}
	}
}
