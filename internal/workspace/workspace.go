// Package workspace hands out isolated per-agent directories. Every workspace
// belongs to an arena keyed by run id, so two runs never share a directory and
// a run can drop everything it created in one call.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/metalagman/swarm/internal/model"
	"github.com/rs/zerolog/log"
)

// Arena owns the workspaces of one run under <base>/<run-id>.
type Arena struct {
	root string

	mu   sync.Mutex
	held map[string]*Workspace
}

// NewArena creates the arena directory for runID below base.
func NewArena(base, runID string) (*Arena, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	root := filepath.Join(base, model.Slug(runID))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create arena %s: %w", root, err)
	}
	return &Arena{root: root, held: make(map[string]*Workspace)}, nil
}

// Root returns the arena directory.
func (a *Arena) Root() string { return a.root }

// Acquire reserves the workspace for key. The returned directory does not
// exist yet so it can be used as a clone destination. Acquiring a key that is
// still held fails.
func (a *Arena) Acquire(key string) (*Workspace, error) {
	name := model.Slug(key)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.held[name]; busy {
		return nil, fmt.Errorf("workspace %s already in use", name)
	}

	dir := filepath.Join(a.root, name)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear stale workspace %s: %w", dir, err)
	}
	ws := &Workspace{Key: name, Dir: dir, arena: a}
	a.held[name] = ws
	log.Debug().Str("workspace", dir).Msg("workspace acquired")
	return ws, nil
}

// Held returns the number of workspaces not yet released.
func (a *Arena) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}

// Close releases every outstanding workspace and removes the arena directory.
func (a *Arena) Close() error {
	a.mu.Lock()
	pending := make([]*Workspace, 0, len(a.held))
	for _, ws := range a.held {
		pending = append(pending, ws)
	}
	a.mu.Unlock()

	for _, ws := range pending {
		if err := ws.Release(); err != nil {
			log.Warn().Err(err).Str("workspace", ws.Dir).Msg("release workspace")
		}
	}
	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("remove arena %s: %w", a.root, err)
	}
	return nil
}

func (a *Arena) forget(name string) {
	a.mu.Lock()
	delete(a.held, name)
	a.mu.Unlock()
}

// Workspace is one reserved directory. Release is idempotent.
type Workspace struct {
	Key string
	Dir string

	arena *Arena
	once  sync.Once
	err   error
}

// Release deletes the directory and frees the key.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.err = fmt.Errorf("remove workspace %s: %w", w.Dir, err)
		}
		w.arena.forget(w.Key)
		log.Debug().Str("workspace", w.Dir).Msg("workspace released")
	})
	return w.err
}
