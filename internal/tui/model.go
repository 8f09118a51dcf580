// Package tui renders live agent progress of a swarm run.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/metalagman/swarm/internal/coordinator"
	"github.com/metalagman/swarm/internal/model"
)

// AgentView is one agent row.
type AgentView struct {
	AgentID  string
	State    coordinator.State
	Started  time.Time
	Finished time.Time
	Result   *model.AgentResult
}

// Elapsed is the running or final duration of the agent.
func (a *AgentView) Elapsed(now time.Time) time.Duration {
	switch {
	case a.Started.IsZero():
		return 0
	case !a.Finished.IsZero():
		return a.Finished.Sub(a.Started)
	default:
		return now.Sub(a.Started)
	}
}

// Model is the TUI application model.
type Model struct {
	title   string
	agents  []*AgentView
	weights model.Weights
	spinner spinner.Model

	started time.Time
	now     time.Time
	width   int

	done        bool
	interrupted bool
	outcome     *model.OrchestrationOutcome
	err         error
}

// NewModel creates a model with one pending row per agent id.
func NewModel(title string, agentIDs []string, w model.Weights) Model {
	agents := make([]*AgentView, len(agentIDs))
	for i, id := range agentIDs {
		agents[i] = &AgentView{AgentID: id, State: coordinator.StatePending}
	}
	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(runningStyle))
	now := time.Now()
	return Model{title: title, agents: agents, weights: w, spinner: sp, started: now, now: now}
}

// Interrupted reports whether the user quit before the run finished.
func (m Model) Interrupted() bool {
	return m.interrupted
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick)
}

// TickMsg triggers a refresh of elapsed times.
type TickMsg time.Time

// EventMsg carries a coordinator progress event.
type EventMsg coordinator.Event

// DoneMsg reports the end of the run.
type DoneMsg struct {
	Outcome model.OrchestrationOutcome
	Err     error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
