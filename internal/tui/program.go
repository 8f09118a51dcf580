package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/metalagman/swarm/internal/coordinator"
	"github.com/metalagman/swarm/internal/model"
)

// RunFunc executes the run, reporting progress to obs.
type RunFunc func(ctx context.Context, obs coordinator.Observer) (model.OrchestrationOutcome, error)

type runResult struct {
	outcome model.OrchestrationOutcome
	err     error
}

// Run executes fn while displaying m. Quitting the UI cancels the context
// given to fn; Run still waits for fn to return.
func Run(ctx context.Context, m Model, fn RunFunc, opts ...tea.ProgramOption) (model.OrchestrationOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	results := make(chan runResult, 1)
	go func() {
		out, err := fn(ctx, func(ev coordinator.Event) { p.Send(EventMsg(ev)) })
		results <- runResult{outcome: out, err: err}
		p.Send(DoneMsg{Outcome: out, Err: err})
	}()

	final, err := p.Run()
	if fm, ok := final.(Model); ok && fm.Interrupted() {
		cancel()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		res := <-results
		return res.outcome, errors.Join(res.err, fmt.Errorf("tui: %w", err))
	}
	res := <-results
	return res.outcome, res.err
}
