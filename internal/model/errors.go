package model

import "errors"

var (
	// ErrWorkspaceSetupFailed means clone or branch creation failed; fatal to one agent.
	ErrWorkspaceSetupFailed = errors.New("WorkspaceSetupFailed")
	// ErrAgentProcessFailed means the agent exited non-zero or timed out; fatal to one agent.
	ErrAgentProcessFailed = errors.New("AgentProcessFailed")
	// ErrValidationSkipped means no test/build/e2e command was usable. Not a failure.
	ErrValidationSkipped = errors.New("ValidationSkipped")
	// ErrResultUnavailable means a per-agent artifact was missing or corrupt.
	ErrResultUnavailable = errors.New("ResultUnavailable")
	// ErrNoSuccessfulAgents aborts the run before any merge.
	ErrNoSuccessfulAgents = errors.New("NoSuccessfulAgents")
	// ErrMergeConflict is recovered by taking the incoming side.
	ErrMergeConflict = errors.New("MergeConflict")
	// ErrBranchUnavailable means an agent branch does not exist on origin.
	ErrBranchUnavailable = errors.New("BranchUnavailable")
	// ErrBranchPushFailed aborts the run.
	ErrBranchPushFailed = errors.New("BranchPushFailed")
	// ErrPullRequestCreationFailed is logged and otherwise ignored.
	ErrPullRequestCreationFailed = errors.New("PullRequestCreationFailed")
)
