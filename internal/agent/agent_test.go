package agent

import (
	"testing"

	"github.com/metalagman/swarm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask(provider, modelName string) model.AgentTask {
	return model.NewAgentTask(
		"https://example.com/acme/shop.git",
		"checkout flow",
		"agent-1",
		model.Preset{Name: "fast", Provider: provider, Model: modelName, Instructions: "Be concise."},
		"Add a checkout button",
		"",
	)
}

func TestLookup_KnownProviders(t *testing.T) {
	for _, name := range []string{"claude", "codex", "gemini", "opencode", "exec"} {
		p, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
	}
	assert.Contains(t, Providers(), "codex")
}

func TestLookup_UnknownProvider(t *testing.T) {
	_, err := Lookup("nope")
	assert.Error(t, err)
}

func TestBuildInvocation_Codex(t *testing.T) {
	p, err := Lookup("codex")
	require.NoError(t, err)

	inv, err := p.BuildInvocation(testTask("codex", "gpt-5-codex"))
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(inv.Cmd), 6)
	assert.Equal(t, []string{"codex", "exec", "--full-auto", "--skip-git-repo-check", "--model", "gpt-5-codex"}, inv.Cmd[:6])
	assert.Contains(t, inv.Cmd[len(inv.Cmd)-1], "Add a checkout button")
	assert.Contains(t, inv.Cmd[len(inv.Cmd)-1], "Be concise.")
	assert.Contains(t, inv.Env, "SWARM_AGENT_ID=agent-1")
}

func TestBuildInvocation_ClaudeUsesPromptFlag(t *testing.T) {
	p, err := Lookup("claude")
	require.NoError(t, err)

	inv, err := p.BuildInvocation(testTask("claude", ""))
	require.NoError(t, err)

	assert.NotContains(t, inv.Cmd, "--model")
	assert.Equal(t, "-p", inv.Cmd[len(inv.Cmd)-2])
}

func TestBuildInvocation_OpenCodeModel(t *testing.T) {
	p, err := Lookup("opencode")
	require.NoError(t, err)

	inv, err := p.BuildInvocation(testTask("opencode", "opencode/big-pickle"))
	require.NoError(t, err)
	assert.Equal(t, []string{"opencode", "run", "-m", "opencode/big-pickle"}, inv.Cmd[:4])
}

func TestBuildInvocation_ExecRequiresCmd(t *testing.T) {
	p, err := Lookup("exec")
	require.NoError(t, err)

	_, err = p.BuildInvocation(testTask("exec", ""))
	assert.Error(t, err)

	task := testTask("exec", "")
	task.Preset.Cmd = []string{"./agent.sh", "--fast"}
	inv, err := p.BuildInvocation(task)
	require.NoError(t, err)
	assert.Equal(t, []string{"./agent.sh", "--fast"}, inv.Cmd)

	var prompt string
	for _, kv := range inv.Env {
		if len(kv) > len("SWARM_PROMPT=") && kv[:len("SWARM_PROMPT=")] == "SWARM_PROMPT=" {
			prompt = kv[len("SWARM_PROMPT="):]
		}
	}
	assert.Contains(t, prompt, "Add a checkout button")
}

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }
func (fakeProvider) BuildInvocation(model.AgentTask) (Invocation, error) {
	return Invocation{Cmd: []string{"true"}}, nil
}

func TestRegister_AddsVariant(t *testing.T) {
	Register(fakeProvider{})
	p, err := Lookup("fake")
	require.NoError(t, err)
	inv, err := p.BuildInvocation(model.AgentTask{})
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, inv.Cmd)
}
