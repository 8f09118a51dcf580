// Package run owns the on-disk bookkeeping of swarm runs: the data dir
// layout, run ids, the exclusive run lock and retention.
package run

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// Layout resolves paths below a swarm data dir.
//
//	<data>/swarm.db
//	<data>/locks/run.lock
//	<data>/runs/<run-id>/results/<agent-id>.json
//	<data>/runs/<run-id>/agents/<agent-id>/agent.log
//	<data>/workspaces/<run-id>/<agent-id>/
type Layout struct {
	DataDir string
}

func (l Layout) DBPath() string        { return filepath.Join(l.DataDir, "swarm.db") }
func (l Layout) RunsDir() string       { return filepath.Join(l.DataDir, "runs") }
func (l Layout) WorkspacesDir() string { return filepath.Join(l.DataDir, "workspaces") }

func (l Layout) RunDir(runID string) string { return filepath.Join(l.RunsDir(), runID) }

func (l Layout) ResultsDir(runID string) string { return filepath.Join(l.RunDir(runID), "results") }

func (l Layout) AgentLogsDir(runID string) string { return filepath.Join(l.RunDir(runID), "agents") }

// NewID returns a sortable run id such as 20260102-150405-a1b2c3.
func NewID() (string, error) {
	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	ts := time.Now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s", ts, suffix), nil
}

func randomHex(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
