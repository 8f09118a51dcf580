package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/metalagman/swarm/internal/coordinator"
	"github.com/metalagman/swarm/internal/scoring"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)
)

func (m Model) stateLabel(s coordinator.State) string {
	switch s {
	case coordinator.StateRunning:
		return m.spinner.View() + runningStyle.Render(" running")
	case coordinator.StateDone:
		return doneStyle.Render("✓ done")
	case coordinator.StateFailed:
		return failedStyle.Render("✗ failed")
	default:
		return pendingStyle.Render("○ pending")
	}
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	idWidth := len("AGENT")
	for _, a := range m.agents {
		idWidth = max(idWidth, len(a.AgentID))
	}

	rows := []string{fmt.Sprintf("%-*s  %-10s  %8s  %5s  %6s  %s", idWidth, "AGENT", "STATE", "ELAPSED", "FILES", "SCORE", "NOTE")}
	for _, a := range m.agents {
		files, score, note := "", "", ""
		if a.Result != nil {
			files = fmt.Sprintf("%d", a.Result.Metrics.FilesChanged)
			score = fmt.Sprintf("%.3f", scoring.Score(*a.Result, m.weights))
			note = a.Result.Error
			if a.Result.PushFailed {
				note = "push failed"
			}
		}
		rows = append(rows, fmt.Sprintf("%-*s  %s  %8s  %5s  %6s  %s",
			idWidth, a.AgentID, padRight(m.stateLabel(a.State), 10), formatElapsed(a.Elapsed(m.now)), files, score, truncate(note, 48)))
	}
	section := sectionStyle
	if m.width > 4 {
		section = section.Width(m.width - 2)
	}
	b.WriteString(section.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	b.WriteString("\n")
	return b.String()
}

func (m Model) statusBar() string {
	counts := map[coordinator.State]int{}
	for _, a := range m.agents {
		counts[a.State]++
	}
	status := fmt.Sprintf("%d running · %d done · %d failed · %d pending · %s",
		counts[coordinator.StateRunning], counts[coordinator.StateDone], counts[coordinator.StateFailed],
		counts[coordinator.StatePending], formatElapsed(m.now.Sub(m.started)))

	switch {
	case m.err != nil:
		status += " · error: " + m.err.Error()
	case m.outcome != nil && m.outcome.Success:
		status += " · merged into " + m.outcome.FinalBranch
		if m.outcome.PullRequestURL != "" {
			status += " · " + m.outcome.PullRequestURL
		}
	case m.outcome != nil:
		status += " · run failed: " + m.outcome.Error
	case m.done:
		status += " · finished"
	default:
		status += " · q to quit"
	}
	return statusBarStyle.Render(status)
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Truncate(time.Second).String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
