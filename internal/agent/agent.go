// Package agent turns an AgentTask into the command line of a code-generation
// agent. Each provider is one Provider variant; the coordinator never
// switches on provider names.
package agent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/metalagman/swarm/internal/model"
)

// Provider builds the non-interactive invocation for one agent CLI.
type Provider interface {
	Name() string
	BuildInvocation(task model.AgentTask) (Invocation, error)
}

// Invocation is a ready-to-run command plus the extra environment it needs.
type Invocation struct {
	Cmd []string
	Env []string
}

// cliProvider covers agents that take the prompt on the command line.
type cliProvider struct {
	name       string
	binary     string
	subcommand string
	modelFlag  string
	promptFlag string
	extraFlags []string
}

func (p cliProvider) Name() string { return p.name }

func (p cliProvider) BuildInvocation(task model.AgentTask) (Invocation, error) {
	cmd := []string{p.binary}
	if p.subcommand != "" {
		cmd = append(cmd, p.subcommand)
	}
	cmd = append(cmd, p.extraFlags...)
	if task.Preset.Model != "" && p.modelFlag != "" {
		cmd = append(cmd, p.modelFlag, task.Preset.Model)
	}
	prompt := Prompt(task)
	if p.promptFlag != "" {
		cmd = append(cmd, p.promptFlag)
	}
	cmd = append(cmd, prompt)
	return Invocation{Cmd: cmd, Env: taskEnv(task, prompt)}, nil
}

// execProvider runs a user supplied command; the prompt travels in SWARM_PROMPT.
type execProvider struct{}

func (execProvider) Name() string { return "exec" }

func (execProvider) BuildInvocation(task model.AgentTask) (Invocation, error) {
	if len(task.Preset.Cmd) == 0 {
		return Invocation{}, fmt.Errorf("exec agent requires cmd")
	}
	cmd := append([]string(nil), task.Preset.Cmd...)
	return Invocation{Cmd: cmd, Env: taskEnv(task, Prompt(task))}, nil
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Provider{}
)

func init() {
	Register(cliProvider{
		name:       "claude",
		binary:     "claude",
		modelFlag:  "--model",
		promptFlag: "-p",
		extraFlags: []string{"--output-format", "text", "--dangerously-skip-permissions"},
	})
	Register(cliProvider{
		name:       "codex",
		binary:     "codex",
		subcommand: "exec",
		modelFlag:  "--model",
		extraFlags: []string{"--full-auto", "--skip-git-repo-check"},
	})
	Register(cliProvider{
		name:       "gemini",
		binary:     "gemini",
		modelFlag:  "--model",
		promptFlag: "--prompt",
		extraFlags: []string{"--output-format", "text", "--approval-mode", "yolo"},
	})
	Register(cliProvider{
		name:       "opencode",
		binary:     "opencode",
		subcommand: "run",
		modelFlag:  "-m",
	})
	Register(execProvider{})
}

// Register adds or replaces a provider variant.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = p
}

// Lookup returns the provider registered under name.
func Lookup(name string) (Provider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent provider %q", name)
	}
	return p, nil
}

// Providers lists registered provider names in sorted order.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompt joins the preset instructions and the task prompt.
func Prompt(task model.AgentTask) string {
	var b strings.Builder
	if instr := strings.TrimSpace(task.Preset.Instructions); instr != "" {
		b.WriteString(instr)
		b.WriteString("\n\n")
	}
	b.WriteString("You are working in a fresh clone of the repository on branch ")
	b.WriteString(task.BranchName)
	b.WriteString(".\n")
	b.WriteString("- Edit files in the current directory only.\n")
	b.WriteString("- Do not push, switch branches or rewrite history; the orchestrator commits and pushes your changes.\n\n")
	b.WriteString("Task:\n")
	b.WriteString(strings.TrimSpace(task.Prompt))
	b.WriteString("\n")
	return b.String()
}

func taskEnv(task model.AgentTask, prompt string) []string {
	env := []string{
		"SWARM_AGENT_ID=" + task.AgentID,
		"SWARM_BRANCH=" + task.BranchName,
		"SWARM_PROMPT=" + prompt,
		"SWARM_MODEL=" + task.Preset.Model,
		"SWARM_TEMPERATURE=" + strconv.FormatFloat(task.Preset.Temperature, 'f', -1, 64),
		"SWARM_MAX_TOKENS=" + strconv.Itoa(task.Preset.MaxTokens),
	}
	return env
}
