package model

import "math"

// BuildStatus records the outcome of the build capability.
type BuildStatus string

const (
	BuildSuccess BuildStatus = "success"
	BuildFailed  BuildStatus = "failed"
	BuildNotRun  BuildStatus = "not_run"
)

// TestSummary counts unit test outcomes. Duration is in milliseconds.
type TestSummary struct {
	Passed   int   `json:"passed"`
	Failed   int   `json:"failed"`
	Total    int   `json:"total"`
	Duration int64 `json:"duration"`
}

// E2ESummary counts end-to-end test outcomes. Duration is in milliseconds.
type E2ESummary struct {
	Passed        int      `json:"passed"`
	Failed        int      `json:"failed"`
	Total         int      `json:"total"`
	ArtifactPaths []string `json:"artifact_paths"`
	Duration      int64    `json:"duration"`
}

// Metrics describes the size and cost of a change set.
type Metrics struct {
	FilesChanged    int     `json:"files_changed"`
	LinesAdded      int     `json:"lines_added"`
	LinesRemoved    int     `json:"lines_removed"`
	ComplexityScore float64 `json:"complexity_score"`
	QualityScore    float64 `json:"quality_score"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
}

// AgentResult is the output of one agent run and the schema of the per-agent
// result artifact.
type AgentResult struct {
	AgentID      string       `json:"agent_id"`
	BranchName   string       `json:"branch_name"`
	Success      bool         `json:"success"`
	ChangedPaths []string     `json:"changed_paths"`
	TestSummary  *TestSummary `json:"test_summary,omitempty"`
	BuildStatus  BuildStatus  `json:"build_status"`
	E2ESummary   *E2ESummary  `json:"e2e_summary,omitempty"`
	Metrics      Metrics      `json:"metrics"`
	Error        string       `json:"error,omitempty"`
	// PushFailed marks a successful result whose branch never reached origin.
	PushFailed bool `json:"push_failed,omitempty"`
}

// FailedResult builds the synthetic result substituted for a run that failed
// or never reported.
func FailedResult(agentID, branch, msg string) AgentResult {
	return AgentResult{
		AgentID:      agentID,
		BranchName:   branch,
		Success:      false,
		ChangedPaths: []string{},
		BuildStatus:  BuildNotRun,
		Error:        msg,
	}
}

// Normalize enforces the result invariants and returns the fixed copy.
func (r AgentResult) Normalize() AgentResult {
	if r.ChangedPaths == nil {
		r.ChangedPaths = []string{}
	}
	if r.BuildStatus == "" {
		r.BuildStatus = BuildNotRun
	}
	if math.IsNaN(r.Metrics.QualityScore) || r.Metrics.QualityScore < 0 {
		r.Metrics.QualityScore = 0
	}
	if r.Metrics.QualityScore > 100 {
		r.Metrics.QualityScore = 100
	}
	if r.E2ESummary != nil && r.E2ESummary.ArtifactPaths == nil {
		r.E2ESummary.ArtifactPaths = []string{}
	}

	if r.Success {
		r.Error = ""
		return r
	}
	r.ChangedPaths = []string{}
	if r.BuildStatus == BuildSuccess {
		r.BuildStatus = BuildFailed
	}
	r.PushFailed = false
	if r.Error == "" {
		r.Error = "agent failed"
	}
	return r
}

// CountSuccessful returns how many results succeeded.
func CountSuccessful(results []AgentResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
