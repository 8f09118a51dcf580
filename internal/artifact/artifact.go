// Package artifact stores one AgentResult per agent as a JSON file and loads
// it back, validating the shape before trusting it.
package artifact

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metalagman/swarm/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// MissingMessage is the error of the synthetic result for an agent that never
// wrote its artifact.
const MissingMessage = "Agent did not complete execution"

// Path returns the artifact path of agentID under dir.
func Path(dir, agentID string) string {
	return filepath.Join(dir, model.Slug(agentID)+".json")
}

// Write stores r at path atomically.
func Write(path string, r model.AgentResult) error {
	data, err := json.MarshalIndent(r.Normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads and validates the artifact at path. A missing file yields an
// error matching fs.ErrNotExist.
func Load(path string) (model.AgentResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AgentResult{}, err
	}
	if err := Validate(data); err != nil {
		return model.AgentResult{}, err
	}
	var r model.AgentResult
	if err := json.Unmarshal(data, &r); err != nil {
		return model.AgentResult{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// Validate checks raw artifact JSON against the embedded schema.
func Validate(data []byte) error {
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate result schema: %w", err)
	}
	if res.Valid() {
		return nil
	}
	errs := make([]string, 0, len(res.Errors()))
	for _, schemaErr := range res.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("result schema validation failed: %s", strings.Join(errs, "; "))
}

// Collect loads the artifact of task from dir and substitutes a synthetic
// failure when it is missing, unreadable, or written for another agent.
func Collect(dir string, task model.AgentTask) model.AgentResult {
	path := Path(dir, task.AgentID)
	r, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("agent_id", task.AgentID).Str("path", path).Msg("result artifact missing")
		return model.FailedResult(task.AgentID, task.BranchName, MissingMessage)
	case err != nil:
		log.Warn().Err(err).Str("agent_id", task.AgentID).Str("path", path).Msg("result artifact unreadable")
		return unavailable(task, err)
	case r.AgentID != task.AgentID:
		return unavailable(task, fmt.Errorf("artifact belongs to agent %q", r.AgentID))
	}
	return r.Normalize()
}

func unavailable(task model.AgentTask, err error) model.AgentResult {
	msg := fmt.Sprintf("%s: failed to read result: %v", model.ErrResultUnavailable, err)
	return model.FailedResult(task.AgentID, task.BranchName, msg)
}
