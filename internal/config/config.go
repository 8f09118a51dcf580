// Package config provides configuration loading and management for swarm.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/metalagman/swarm/internal/isolation"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/validate"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultDataDir is where swarm keeps its database, runs and config.
const DefaultDataDir = ".swarm"

// Isolation modes.
const (
	IsolationLocal  = "local"
	IsolationDocker = "docker"
)

// Config is the root configuration.
type Config struct {
	RepoURL        string                 `json:"repo_url"        mapstructure:"repo_url"`
	BaseBranch     string                 `json:"base_branch"     mapstructure:"base_branch"`
	Feature        string                 `json:"feature"         mapstructure:"feature"`
	Prompt         string                 `json:"prompt"          mapstructure:"prompt"`
	PromptFile     string                 `json:"prompt_file"     mapstructure:"prompt_file"`
	Presets        []model.Preset         `json:"presets"         mapstructure:"presets"`
	Strategy       model.MergeStrategy    `json:"strategy"        mapstructure:"strategy"`
	Timeout        time.Duration          `json:"timeout"         mapstructure:"timeout"`
	MaxParallel    int                    `json:"max_parallel"    mapstructure:"max_parallel"`
	Isolation      string                 `json:"isolation"       mapstructure:"isolation"`
	Docker         isolation.DockerConfig `json:"docker"          mapstructure:"docker"`
	Validation     validate.Config        `json:"validation"      mapstructure:"validation"`
	SkipValidation bool                   `json:"skip_validation" mapstructure:"skip_validation"`
	PullRequest    PullRequestConfig      `json:"pull_request"    mapstructure:"pull_request"`
	TokenEnv       string                 `json:"token_env"       mapstructure:"token_env"`
	DataDir        string                 `json:"data_dir"        mapstructure:"data_dir"`
	Retention      RetentionPolicy        `json:"retention"       mapstructure:"retention"`
}

// PullRequestConfig controls pull request creation for successful runs.
type PullRequestConfig struct {
	Enabled  bool   `json:"enabled"   mapstructure:"enabled"`
	GHBinary string `json:"gh_binary" mapstructure:"gh_binary"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// FlagKeys maps command line flag names to config keys.
var FlagKeys = map[string]string{
	"repo":            "repo_url",
	"base":            "base_branch",
	"feature":         "feature",
	"prompt":          "prompt",
	"prompt-file":     "prompt_file",
	"strategy":        "strategy.kind",
	"timeout":         "timeout",
	"max-parallel":    "max_parallel",
	"isolation":       "isolation",
	"image":           "docker.image",
	"skip-validation": "skip_validation",
	"no-pr":           "pull_request.enabled",
}

// Default returns the built-in configuration.
func Default() Config {
	docker := isolation.DockerConfig{Command: []string{"swarm", "worker"}, PassEnv: []string{}}
	return Config{
		Presets:     []model.Preset{},
		Strategy:    model.MergeStrategy{Kind: model.MergeBestOverall, Weights: model.DefaultWeights()},
		Timeout:     30 * time.Minute,
		Isolation:   IsolationLocal,
		Docker:      docker,
		Validation:  validate.DefaultConfig(),
		PullRequest: PullRequestConfig{Enabled: true, GHBinary: "gh"},
		TokenEnv:    "GITHUB_TOKEN",
		DataDir:     DefaultDataDir,
		Retention:   RetentionPolicy{KeepLast: 50, KeepDays: 30},
	}
}

// Sample is the configuration written by `swarm init`.
func Sample() Config {
	cfg := Default()
	cfg.RepoURL = "https://github.com/owner/repo.git"
	cfg.Feature = "my-feature"
	cfg.Prompt = "Describe the feature to implement."
	cfg.Presets = []model.Preset{
		{Name: "claude", Provider: "claude", Model: "claude-sonnet-4-5"},
		{Name: "codex", Provider: "codex", Model: "gpt-5.2-codex"},
		{Name: "gemini", Provider: "gemini", Model: "gemini-3-flash-preview"},
	}
	return cfg
}

// Load reads the config file at path (a missing file leaves the defaults),
// applies SWARM_* environment overrides and the changed flags in flags,
// then decodes and validates the result. A .env file next to the working
// directory is loaded into the environment first.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	defaults, err := Settings(Default())
	if err != nil {
		return Config{}, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("yaml")
			}
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if name == "no-pr" {
				if flag.Changed {
					v.Set(key, flag.Value.String() != "true")
				}
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the decoded config against the schema.
func (c Config) Validate() error {
	settings, err := Settings(c)
	if err != nil {
		return err
	}
	return ValidateSettings(settings)
}

// Settings renders cfg as the nested key/value form used by the config file.
func Settings(cfg Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	settings["timeout"] = cfg.Timeout.String()
	return settings, nil
}

// WriteFile writes cfg as YAML to path, creating parent directories.
func WriteFile(path string, cfg Config) error {
	settings, err := Settings(cfg)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ResolvePrompt returns the inline prompt or the contents of PromptFile.
func (c Config) ResolvePrompt() (string, error) {
	if c.PromptFile == "" {
		return c.Prompt, nil
	}
	data, err := os.ReadFile(c.PromptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Token returns the VCS credential from the configured environment variable.
func (c Config) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}
