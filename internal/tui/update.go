package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/metalagman/swarm/internal/coordinator"
)

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done {
				m.interrupted = true
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case TickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tickCmd()
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(coordinator.Event(msg))
	case DoneMsg:
		m.done = true
		m.now = time.Now()
		outcome := msg.Outcome
		m.outcome = &outcome
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev coordinator.Event) {
	if ev.Index < 0 || ev.Index >= len(m.agents) {
		return
	}
	a := m.agents[ev.Index]
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	a.State = ev.State
	switch ev.State {
	case coordinator.StateRunning:
		a.Started = at
	case coordinator.StateDone, coordinator.StateFailed:
		if a.Started.IsZero() {
			a.Started = at
		}
		a.Finished = at
		a.Result = ev.Result
	}
	if at.After(m.now) {
		m.now = at
	}
}
