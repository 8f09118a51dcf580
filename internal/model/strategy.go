package model

import (
	"fmt"
	"strings"
)

// MergeKind selects how ranked candidates become the final change set.
type MergeKind string

const (
	MergeBestOverall MergeKind = "best_overall"
	MergeBestPerFile MergeKind = "best_per_file"
	MergeComposite   MergeKind = "composite"
)

// ParseMergeKind accepts the canonical names and their dashed spellings.
func ParseMergeKind(s string) (MergeKind, error) {
	switch MergeKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")) {
	case MergeBestOverall, "":
		return MergeBestOverall, nil
	case MergeBestPerFile:
		return MergeBestPerFile, nil
	case MergeComposite:
		return MergeComposite, nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MergeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseMergeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k MergeKind) String() string { return string(k) }

// Weights scale the sub-scores of the composite score. They need not sum to 1.
type Weights struct {
	TestSuccess float64 `json:"test_success" mapstructure:"test_success"`
	CodeQuality float64 `json:"code_quality" mapstructure:"code_quality"`
	Performance float64 `json:"performance"  mapstructure:"performance"`
	Coverage    float64 `json:"coverage"     mapstructure:"coverage"`
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{TestSuccess: 0.4, CodeQuality: 0.3, Performance: 0.2, Coverage: 0.1}
}

// MergeStrategy pairs a merge kind with its scoring weights.
type MergeStrategy struct {
	Kind    MergeKind `json:"kind"    mapstructure:"kind"`
	Weights Weights   `json:"weights" mapstructure:"weights"`
}

// RankedResult is an AgentResult with its composite score for one ranking.
type RankedResult struct {
	AgentResult
	CompositeScore float64 `json:"composite_score"`
}

// OrchestrationOutcome is the final record of one orchestration run.
type OrchestrationOutcome struct {
	RunID          string        `json:"run_id,omitempty"`
	Success        bool          `json:"success"`
	FinalBranch    string        `json:"final_branch,omitempty"`
	PullRequestURL string        `json:"pull_request_url,omitempty"`
	Strategy       MergeKind     `json:"strategy,omitempty"`
	AgentResults   []AgentResult `json:"agent_results"`
	Error          string        `json:"error,omitempty"`
}
