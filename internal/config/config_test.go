package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/swarm/internal/model"
	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Timeout != 30*time.Minute {
		t.Fatalf("timeout = %s, want 30m", cfg.Timeout)
	}
	if cfg.Strategy.Kind != model.MergeBestOverall {
		t.Fatalf("strategy = %q, want %q", cfg.Strategy.Kind, model.MergeBestOverall)
	}
	if cfg.Strategy.Weights != model.DefaultWeights() {
		t.Fatalf("weights = %+v, want defaults", cfg.Strategy.Weights)
	}
	if cfg.Isolation != IsolationLocal || cfg.DataDir != DefaultDataDir {
		t.Fatalf("isolation/data_dir = %q/%q", cfg.Isolation, cfg.DataDir)
	}
	if !cfg.PullRequest.Enabled || cfg.PullRequest.GHBinary != "gh" {
		t.Fatalf("pull_request = %+v", cfg.PullRequest)
	}
	if len(cfg.Validation.Test) == 0 {
		t.Fatalf("validation candidates missing")
	}
}

func TestLoad_FileValues(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
repo_url: https://github.com/o/repo.git
feature: login
timeout: 90s
max_parallel: 2
strategy:
  kind: best-per-file
  weights:
    test_success: 1
presets:
  - name: fast
    provider: claude
    model: claude-haiku
    temperature: 0.2
  - name: script
    provider: exec
    cmd: ["sh", "-c", "true"]
validation:
  test:
    - ["go", "test", "./..."]
  parsers:
    test: [go, json]
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Timeout != 90*time.Second {
		t.Fatalf("timeout = %s, want 90s", cfg.Timeout)
	}
	if cfg.Strategy.Kind != model.MergeBestPerFile {
		t.Fatalf("strategy = %q, want %q", cfg.Strategy.Kind, model.MergeBestPerFile)
	}
	if cfg.Strategy.Weights.TestSuccess != 1 || cfg.Strategy.Weights.CodeQuality != model.DefaultWeights().CodeQuality {
		t.Fatalf("weights = %+v, want test_success overridden only", cfg.Strategy.Weights)
	}
	if len(cfg.Presets) != 2 || cfg.Presets[0].Model != "claude-haiku" || cfg.Presets[1].Cmd[0] != "sh" {
		t.Fatalf("presets = %+v", cfg.Presets)
	}
	if len(cfg.Validation.Test) != 1 || cfg.Validation.Test[0][1] != "test" {
		t.Fatalf("validation.test = %v", cfg.Validation.Test)
	}
	if got := cfg.Validation.Parsers.Test; len(got) != 2 || got[0] != "go" || got[1] != "json" {
		t.Fatalf("validation.parsers.test = %v, want [go json]", got)
	}
	if got := cfg.Validation.Parsers.E2E; len(got) != 2 || got[0] != "playwright" {
		t.Fatalf("validation.parsers.e2e = %v, want defaults", got)
	}
	if cfg.MaxParallel != 2 {
		t.Fatalf("max_parallel = %d, want 2", cfg.MaxParallel)
	}
}

func TestLoad_EnvAndFlagsOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "feature: from-file\nrepo_url: file-url\n")
	t.Setenv("SWARM_FEATURE", "from-env")
	t.Setenv("SWARM_STRATEGY_KIND", "composite")

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("repo", "", "")
	flags.Int("max-parallel", 0, "")
	flags.Bool("no-pr", false, "")
	if err := flags.Parse([]string{"--repo", "flag-url", "--max-parallel", "3", "--no-pr"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Feature != "from-env" {
		t.Fatalf("feature = %q, want from-env", cfg.Feature)
	}
	if cfg.RepoURL != "flag-url" {
		t.Fatalf("repo_url = %q, want flag-url", cfg.RepoURL)
	}
	if cfg.Strategy.Kind != model.MergeComposite {
		t.Fatalf("strategy = %q, want composite", cfg.Strategy.Kind)
	}
	if cfg.MaxParallel != 3 {
		t.Fatalf("max_parallel = %d, want 3", cfg.MaxParallel)
	}
	if cfg.PullRequest.Enabled {
		t.Fatalf("pull requests should be disabled by --no-pr")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SWARM_BASE_BRANCH=develop\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SWARM_BASE_BRANCH") })

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BaseBranch != "develop" {
		t.Fatalf("base_branch = %q, want develop", cfg.BaseBranch)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown provider":     "presets:\n  - provider: robot\n",
		"exec without cmd":     "presets:\n  - provider: exec\n",
		"bad isolation":        "isolation: vm\n",
		"docker without image": "isolation: docker\n",
		"negative parallel":    "max_parallel: -1\n",
		"unknown parser":       "validation:\n  parsers:\n    test: [robot]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			_, err := Load(writeConfig(t, body), nil)
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("error = %v, want SchemaError", err)
			}
		})
	}
}

func TestLoad_UnknownStrategy(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load(writeConfig(t, "strategy:\n  kind: random\n"), nil); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), ".swarm", "config.yaml")
	if err := WriteFile(path, Sample()); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := Sample()
	if cfg.RepoURL != want.RepoURL || cfg.Timeout != want.Timeout || len(cfg.Presets) != len(want.Presets) {
		t.Fatalf("round trip = %+v, want %+v", cfg, want)
	}
	if cfg.Presets[1].Provider != "codex" {
		t.Fatalf("preset[1] = %+v", cfg.Presets[1])
	}
}

func TestResolvePrompt(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(file, []byte("  build it\n"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	got, err := Config{Prompt: "inline", PromptFile: file}.ResolvePrompt()
	if err != nil || got != "build it" {
		t.Fatalf("ResolvePrompt = %q, %v", got, err)
	}
	got, err = Config{Prompt: "inline"}.ResolvePrompt()
	if err != nil || got != "inline" {
		t.Fatalf("ResolvePrompt = %q, %v", got, err)
	}
}
