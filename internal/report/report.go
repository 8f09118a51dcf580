// Package report aggregates agent results into the orchestration outcome,
// opens the pull request and renders human readable summaries.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/scoring"
	"github.com/rs/zerolog/log"
)

// Input is everything the aggregator needs from one run.
type Input struct {
	RunID       string
	RepoURL     string
	Feature     string
	BaseBranch  string
	Strategy    model.MergeStrategy
	Results     []model.AgentResult
	FinalBranch string
	// Err is the run level failure (merge or push), if any.
	Err error
}

// Aggregator builds the orchestration outcome.
type Aggregator struct {
	pr PullRequester
}

// NewAggregator returns an aggregator. pr may be nil to disable pull requests.
func NewAggregator(pr PullRequester) *Aggregator {
	return &Aggregator{pr: pr}
}

// Build derives the outcome. A run succeeds when at least one agent
// succeeded and no run level error occurred. Pull request failures are
// logged and leave the outcome successful without a URL.
func (a *Aggregator) Build(ctx context.Context, in Input) model.OrchestrationOutcome {
	out := model.OrchestrationOutcome{
		RunID:        in.RunID,
		Strategy:     in.Strategy.Kind,
		AgentResults: in.Results,
	}
	if out.AgentResults == nil {
		out.AgentResults = []model.AgentResult{}
	}

	switch {
	case in.Err != nil:
		out.Error = in.Err.Error()
		return out
	case model.CountSuccessful(in.Results) == 0:
		out.Error = model.ErrNoSuccessfulAgents.Error()
		return out
	}

	out.Success = true
	out.FinalBranch = in.FinalBranch
	if a.pr == nil || in.FinalBranch == "" {
		return out
	}

	url, err := a.pr.Create(ctx, PullRequest{
		Repo:  in.RepoURL,
		Head:  in.FinalBranch,
		Base:  in.BaseBranch,
		Title: Title(in),
		Body:  Markdown(out, in.Strategy.Weights),
	})
	if err != nil {
		log.Warn().Err(errors.Join(model.ErrPullRequestCreationFailed, err)).Str("branch", in.FinalBranch).Msg("pull request not created")
		return out
	}
	out.PullRequestURL = url
	log.Info().Str("url", url).Msg("pull request created")
	return out
}

// Title is the pull request title for a run.
func Title(in Input) string {
	best := ""
	if ranked := scoring.Rank(in.Results, in.Strategy.Weights); len(ranked) > 0 && ranked[0].Success {
		best = ranked[0].AgentID
	}
	if best == "" {
		return fmt.Sprintf("swarm: %s", in.Feature)
	}
	return fmt.Sprintf("swarm: %s (best: %s)", in.Feature, best)
}

// Markdown renders the outcome as a markdown report, agents in rank order.
func Markdown(out model.OrchestrationOutcome, w model.Weights) string {
	var b strings.Builder
	status := "succeeded"
	if !out.Success {
		status = "failed"
	}
	fmt.Fprintf(&b, "# Swarm run %s\n\n", out.RunID)
	fmt.Fprintf(&b, "- **Status:** %s\n", status)
	if out.Strategy != "" {
		fmt.Fprintf(&b, "- **Strategy:** %s\n", out.Strategy)
	}
	if out.FinalBranch != "" {
		fmt.Fprintf(&b, "- **Final branch:** `%s`\n", out.FinalBranch)
	}
	if out.PullRequestURL != "" {
		fmt.Fprintf(&b, "- **Pull request:** %s\n", out.PullRequestURL)
	}
	if out.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", out.Error)
	}
	fmt.Fprintf(&b, "- **Agents:** %d of %d succeeded\n\n", model.CountSuccessful(out.AgentResults), len(out.AgentResults))

	b.WriteString("| Rank | Agent | Score | Tests | Build | Files | +/- | Time | Error |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	for i, r := range scoring.Rank(out.AgentResults, w) {
		fmt.Fprintf(&b, "| %d | %s | %.3f | %s | %s | %d | +%d/-%d | %s | %s |\n",
			i+1, r.AgentID, r.CompositeScore, tests(r.AgentResult), r.BuildStatus,
			r.Metrics.FilesChanged, r.Metrics.LinesAdded, r.Metrics.LinesRemoved,
			millis(r.Metrics.ExecutionTimeMS), escapeCell(r.Error))
	}
	return b.String()
}

// Render formats markdown for the terminal. style is a glamour standard
// style name; empty picks one from the terminal background.
func Render(md, style string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return r.Render(md)
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Padding(0, 1)
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1)
)

// Table renders the per-agent summary as a terminal table.
func Table(out model.OrchestrationOutcome, w model.Weights) string {
	ranked := scoring.Rank(out.AgentResults, w)
	rows := make([][]string, 0, len(ranked))
	for _, r := range ranked {
		status := "ok"
		if !r.Success {
			status = "failed"
		} else if r.PushFailed {
			status = "ok (not pushed)"
		}
		rows = append(rows, []string{
			r.AgentID,
			status,
			fmt.Sprintf("%.3f", r.CompositeScore),
			tests(r.AgentResult),
			string(r.BuildStatus),
			fmt.Sprintf("%d", r.Metrics.FilesChanged),
			millis(r.Metrics.ExecutionTimeMS),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("AGENT", "STATUS", "SCORE", "TESTS", "BUILD", "FILES", "TIME").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1 && row >= 0 && row < len(ranked) && !ranked[row].Success:
				return failedStyle
			case col == 1:
				return successStyle
			}
			return cellStyle
		})
	return t.String()
}

// Summary is the one-line result printed after the table.
func Summary(out model.OrchestrationOutcome) string {
	if !out.Success {
		return fmt.Sprintf("run %s failed: %s", out.RunID, out.Error)
	}
	s := fmt.Sprintf("run %s succeeded, final branch %s", out.RunID, out.FinalBranch)
	if out.PullRequestURL != "" {
		s += ", pull request " + out.PullRequestURL
	}
	return s
}

func tests(r model.AgentResult) string {
	if r.TestSummary == nil || r.TestSummary.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", r.TestSummary.Passed, r.TestSummary.Total)
}

func millis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
