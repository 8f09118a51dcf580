package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentTask_DerivesBranch(t *testing.T) {
	task := NewAgentTask("git@github.com:acme/shop.git", "Checkout Flow", "agent-2", Preset{Name: "p"}, "do it", "tok")

	assert.Equal(t, "shop", task.RepoName)
	assert.Equal(t, "shop/checkout-flow/agent-2", task.BranchName)
	assert.Equal(t, "shop/checkout-flow/final", FinalBranchName(task.RepoName, task.Feature))
}

func TestRepoNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/shop.git": "shop",
		"https://github.com/acme/shop/":    "shop",
		"/tmp/origin.git":                  "origin",
		"git@github.com:acme/shop.git":     "shop",
	}
	for in, want := range cases {
		assert.Equal(t, want, RepoNameFromURL(in), in)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "add-login_page", Slug("  Add Login_Page "))
	assert.Equal(t, "a.b", Slug("a..b"))
	assert.Equal(t, "unnamed", Slug("***"))
}

func TestEnv_RoundTrip(t *testing.T) {
	task := NewAgentTask("https://example.com/acme/shop.git", "feat", "a1", Preset{
		Name:         "fast",
		Provider:     "exec",
		Model:        "m1",
		Temperature:  0.7,
		MaxTokens:    4096,
		Instructions: "be nice",
		Cmd:          []string{"./agent.sh", "--x"},
	}, "prompt text", "secret").WithBaseBranch("develop")

	env := map[string]string{}
	for _, kv := range task.Env(90*time.Second, "/results/a1.json") {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	got, timeout, resultPath, err := TaskFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)
	assert.Equal(t, "/results/a1.json", resultPath)
	assert.Equal(t, task.Preset, got.Preset)
	assert.Equal(t, task.BranchName, got.BranchName)
	assert.Equal(t, "develop", got.BaseBranch)
	assert.Equal(t, "secret", got.Token)
	assert.Equal(t, task, got)
}

func TestTaskFromEnv_MissingRequired(t *testing.T) {
	_, _, _, err := TaskFromEnv(func(string) string { return "" })
	assert.Error(t, err)
}
