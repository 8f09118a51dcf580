// Package model defines the records exchanged between the coordinator, the
// scoring and merge stages and the result artifacts.
package model

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Preset is a named agent configuration: which provider runs, with what model
// and generation parameters.
type Preset struct {
	Name         string   `json:"name"                   mapstructure:"name"`
	Provider     string   `json:"provider"               mapstructure:"provider"`
	Model        string   `json:"model,omitempty"        mapstructure:"model"`
	Temperature  float64  `json:"temperature,omitempty"  mapstructure:"temperature"`
	MaxTokens    int      `json:"max_tokens,omitempty"   mapstructure:"max_tokens"`
	Instructions string   `json:"instructions,omitempty" mapstructure:"instructions"`
	Cmd          []string `json:"cmd,omitempty"          mapstructure:"cmd"`
}

// AgentTask is the input of exactly one agent run. Build it with NewAgentTask
// and treat it as read-only afterwards.
type AgentTask struct {
	RepoURL    string `json:"repo_url"`
	RepoName   string `json:"repo_name"`
	Feature    string `json:"feature"`
	AgentID    string `json:"agent_id"`
	BranchName string `json:"branch_name"`
	BaseBranch string `json:"base_branch,omitempty"`
	Preset     Preset `json:"preset"`
	Prompt     string `json:"prompt"`
	Token      string `json:"-"`
}

// NewAgentTask builds a task and derives its branch name.
func NewAgentTask(repoURL, feature, agentID string, preset Preset, prompt, token string) AgentTask {
	repo := RepoNameFromURL(repoURL)
	return AgentTask{
		RepoURL:    repoURL,
		RepoName:   repo,
		Feature:    feature,
		AgentID:    agentID,
		BranchName: BranchName(repo, feature, agentID),
		Preset:     preset,
		Prompt:     prompt,
		Token:      token,
	}
}

// WithBaseBranch returns a copy of the task branching from base instead of the
// remote default branch.
func (t AgentTask) WithBaseBranch(base string) AgentTask {
	t.BaseBranch = base
	return t
}

// BranchName derives the per-agent branch "{repo}/{feature}/{agent-id}".
func BranchName(repo, feature, agentID string) string {
	return fmt.Sprintf("%s/%s/%s", Slug(repo), Slug(feature), Slug(agentID))
}

// FinalAgentID is the branch component reserved for the merged result. No
// agent may use it.
const FinalAgentID = "final"

// FinalBranchName is the branch the merge engine writes to.
func FinalBranchName(repo, feature string) string {
	return BranchName(repo, feature, FinalAgentID)
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// Slug lowercases s and replaces anything git would reject in a ref component.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugUnsafe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	if s == "" {
		return "unnamed"
	}
	return s
}

// RepoNameFromURL extracts "name" from ".../name.git" style URLs and paths.
func RepoNameFromURL(url string) string {
	u := strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndex(u, ":"); i >= 0 && !strings.Contains(u[i:], "/") {
		u = u[i+1:]
	}
	return strings.TrimSuffix(path.Base(u), ".git")
}

// Environment variables carrying a task into an isolated worker.
const (
	EnvRepoURL      = "SWARM_TASK_REPO_URL"
	EnvRepoName     = "SWARM_TASK_REPO_NAME"
	EnvFeature      = "SWARM_TASK_FEATURE"
	EnvAgentID      = "SWARM_TASK_AGENT_ID"
	EnvBranch       = "SWARM_TASK_BRANCH"
	EnvBaseBranch   = "SWARM_TASK_BASE_BRANCH"
	EnvPreset       = "SWARM_TASK_PRESET"
	EnvProvider     = "SWARM_TASK_PROVIDER"
	EnvModel        = "SWARM_TASK_MODEL"
	EnvTemperature  = "SWARM_TASK_TEMPERATURE"
	EnvMaxTokens    = "SWARM_TASK_MAX_TOKENS"
	EnvInstructions = "SWARM_TASK_INSTRUCTIONS"
	EnvAgentCmd     = "SWARM_TASK_AGENT_CMD"
	EnvPrompt       = "SWARM_TASK_PROMPT"
	EnvToken        = "SWARM_TASK_TOKEN"
	EnvTimeout      = "SWARM_TASK_TIMEOUT"
	EnvResultPath   = "SWARM_TASK_RESULT_PATH"
)

// Env encodes the task, its timeout and the artifact path as KEY=VALUE pairs.
func (t AgentTask) Env(timeout time.Duration, resultPath string) []string {
	cmdJSON := ""
	if len(t.Preset.Cmd) > 0 {
		data, _ := json.Marshal(t.Preset.Cmd)
		cmdJSON = string(data)
	}
	return []string{
		EnvRepoURL + "=" + t.RepoURL,
		EnvRepoName + "=" + t.RepoName,
		EnvFeature + "=" + t.Feature,
		EnvAgentID + "=" + t.AgentID,
		EnvBranch + "=" + t.BranchName,
		EnvBaseBranch + "=" + t.BaseBranch,
		EnvPreset + "=" + t.Preset.Name,
		EnvProvider + "=" + t.Preset.Provider,
		EnvModel + "=" + t.Preset.Model,
		EnvTemperature + "=" + strconv.FormatFloat(t.Preset.Temperature, 'f', -1, 64),
		EnvMaxTokens + "=" + strconv.Itoa(t.Preset.MaxTokens),
		EnvInstructions + "=" + t.Preset.Instructions,
		EnvAgentCmd + "=" + cmdJSON,
		EnvPrompt + "=" + t.Prompt,
		EnvToken + "=" + t.Token,
		EnvTimeout + "=" + timeout.String(),
		EnvResultPath + "=" + resultPath,
	}
}

// TaskFromEnv decodes what Env produced.
func TaskFromEnv(getenv func(string) string) (AgentTask, time.Duration, string, error) {
	required := []string{EnvRepoURL, EnvAgentID, EnvBranch, EnvProvider, EnvResultPath}
	for _, key := range required {
		if strings.TrimSpace(getenv(key)) == "" {
			return AgentTask{}, 0, "", fmt.Errorf("%s must be set", key)
		}
	}

	task := AgentTask{
		RepoURL:    getenv(EnvRepoURL),
		RepoName:   getenv(EnvRepoName),
		Feature:    getenv(EnvFeature),
		AgentID:    getenv(EnvAgentID),
		BranchName: getenv(EnvBranch),
		BaseBranch: getenv(EnvBaseBranch),
		Preset: Preset{
			Name:         getenv(EnvPreset),
			Provider:     getenv(EnvProvider),
			Model:        getenv(EnvModel),
			Instructions: getenv(EnvInstructions),
		},
		Prompt: getenv(EnvPrompt),
		Token:  getenv(EnvToken),
	}
	if task.RepoName == "" {
		task.RepoName = RepoNameFromURL(task.RepoURL)
	}
	if v := getenv(EnvTemperature); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return AgentTask{}, 0, "", fmt.Errorf("parse %s: %w", EnvTemperature, err)
		}
		task.Preset.Temperature = temp
	}
	if v := getenv(EnvMaxTokens); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return AgentTask{}, 0, "", fmt.Errorf("parse %s: %w", EnvMaxTokens, err)
		}
		task.Preset.MaxTokens = n
	}
	if v := getenv(EnvAgentCmd); v != "" {
		if err := json.Unmarshal([]byte(v), &task.Preset.Cmd); err != nil {
			return AgentTask{}, 0, "", fmt.Errorf("parse %s: %w", EnvAgentCmd, err)
		}
	}

	var timeout time.Duration
	if v := getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return AgentTask{}, 0, "", fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
		timeout = d
	}
	return task, timeout, getenv(EnvResultPath), nil
}
