package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metalagman/swarm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullResult() model.AgentResult {
	return model.AgentResult{
		AgentID:      "agent-1",
		BranchName:   "shop/checkout/agent-1",
		Success:      true,
		ChangedPaths: []string{"src/a.ts", "src/b.ts"},
		TestSummary:  &model.TestSummary{Passed: 8, Failed: 2, Total: 10, Duration: 1200},
		BuildStatus:  model.BuildSuccess,
		E2ESummary:   &model.E2ESummary{Passed: 3, Total: 3, ArtifactPaths: []string{"test-results/trace.zip"}, Duration: 9000},
		Metrics: model.Metrics{
			FilesChanged:    2,
			LinesAdded:      40,
			LinesRemoved:    4,
			ComplexityScore: 2.44,
			QualityScore:    4.4,
			ExecutionTimeMS: 5000,
		},
		PushFailed: true,
	}
}

func TestRoundTrip_AllFields(t *testing.T) {
	path := Path(t.TempDir(), "agent-1")
	want := fullResult()

	require.NoError(t, Write(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRoundTrip_AbsentOptionals(t *testing.T) {
	path := Path(t.TempDir(), "agent-2")
	want := model.FailedResult("agent-2", "shop/checkout/agent-2", "AgentProcessFailed: agent exited with code 1")

	require.NoError(t, Write(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "test_summary")
	assert.NotContains(t, string(data), "e2e_summary")
	assert.NotContains(t, string(data), "push_failed")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Nil(t, got.TestSummary)
	assert.Nil(t, got.E2ESummary)
}

func TestValidate_RejectsInvariantViolations(t *testing.T) {
	cases := map[string]string{
		"failed with paths":   `{"agent_id":"a","branch_name":"b","success":false,"changed_paths":["x"],"build_status":"not_run","metrics":{"files_changed":0,"lines_added":0,"lines_removed":0,"complexity_score":0,"quality_score":0,"execution_time_ms":0},"error":"e"}`,
		"failed build ok":     `{"agent_id":"a","branch_name":"b","success":false,"changed_paths":[],"build_status":"success","metrics":{"files_changed":0,"lines_added":0,"lines_removed":0,"complexity_score":0,"quality_score":0,"execution_time_ms":0},"error":"e"}`,
		"failed no error":     `{"agent_id":"a","branch_name":"b","success":false,"changed_paths":[],"build_status":"failed","metrics":{"files_changed":0,"lines_added":0,"lines_removed":0,"complexity_score":0,"quality_score":0,"execution_time_ms":0}}`,
		"success with error":  `{"agent_id":"a","branch_name":"b","success":true,"changed_paths":[],"build_status":"failed","metrics":{"files_changed":0,"lines_added":0,"lines_removed":0,"complexity_score":0,"quality_score":0,"execution_time_ms":0},"error":"e"}`,
		"quality over 100":    `{"agent_id":"a","branch_name":"b","success":true,"changed_paths":[],"build_status":"failed","metrics":{"files_changed":0,"lines_added":0,"lines_removed":0,"complexity_score":0,"quality_score":101,"execution_time_ms":0}}`,
		"unknown build state": `{"agent_id":"a","branch_name":"b","success":true,"changed_paths":[],"build_status":"maybe","metrics":{"files_changed":0,"lines_added":0,"lines_removed":0,"complexity_score":0,"quality_score":1,"execution_time_ms":0}}`,
		"not json":            `{"agent_id":`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate([]byte(doc)))
		})
	}
}

func TestCollect_Missing(t *testing.T) {
	task := model.NewAgentTask("/tmp/repo.git", "feat", "ghost", model.Preset{Provider: "exec"}, "p", "")
	r := Collect(t.TempDir(), task)

	assert.False(t, r.Success)
	assert.Equal(t, MissingMessage, r.Error)
	assert.Equal(t, "ghost", r.AgentID)
	assert.Equal(t, task.BranchName, r.BranchName)
	assert.Empty(t, r.ChangedPaths)
	assert.Equal(t, model.BuildNotRun, r.BuildStatus)
}

func TestCollect_Corrupt(t *testing.T) {
	dir := t.TempDir()
	task := model.NewAgentTask("/tmp/repo.git", "feat", "broken", model.Preset{Provider: "exec"}, "p", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	r := Collect(dir, task)
	assert.False(t, r.Success)
	assert.True(t, strings.HasPrefix(r.Error, "ResultUnavailable: failed to read result"), r.Error)
}

func TestCollect_ForeignAgent(t *testing.T) {
	dir := t.TempDir()
	task := model.NewAgentTask("/tmp/repo.git", "feat", "agent-1", model.Preset{Provider: "exec"}, "p", "")
	other := fullResult()
	other.AgentID = "agent-9"
	require.NoError(t, Write(Path(dir, "agent-1"), other))

	r := Collect(dir, task)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "agent-9")
}

func TestCollect_Valid(t *testing.T) {
	dir := t.TempDir()
	want := fullResult()
	require.NoError(t, Write(Path(dir, want.AgentID), want))

	task := model.NewAgentTask("/tmp/repo.git", "checkout", "agent-1", model.Preset{Provider: "exec"}, "p", "")
	assert.Equal(t, want, Collect(dir, task))
}
