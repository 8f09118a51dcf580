// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequireGit skips the test when git is not installed.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// Git runs git in dir and returns trimmed stdout, failing the test on error.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// WriteFiles writes path->content pairs below dir. An empty content removes
// the file.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if content == "" {
			require.NoError(t, os.RemoveAll(p))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// NewOrigin creates a bare repository whose main branch holds one commit
// with files. It returns the path usable as a clone URL.
func NewOrigin(t testing.TB, files map[string]string) string {
	t.Helper()
	RequireGit(t)

	root := t.TempDir()
	origin := filepath.Join(root, "repo.git")
	Git(t, root, "init", "--quiet", "--bare", "-b", "main", origin)

	seed := filepath.Join(root, "seed")
	Git(t, root, "clone", "--quiet", origin, seed)
	Git(t, seed, "symbolic-ref", "HEAD", "refs/heads/main")
	WriteFiles(t, seed, files)
	Git(t, seed, "add", "-A")
	Git(t, seed, "commit", "--quiet", "--allow-empty", "-m", "initial")
	Git(t, seed, "push", "--quiet", "origin", "main")
	return origin
}

// PushBranch commits files on a new branch forked from main and pushes it to
// origin.
func PushBranch(t testing.TB, origin, branch string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "work")
	Git(t, "", "clone", "--quiet", origin, dir)
	Git(t, dir, "checkout", "--quiet", "-b", branch, "origin/main")
	WriteFiles(t, dir, files)
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "--quiet", "-m", "change on "+branch)
	Git(t, dir, "push", "--quiet", "origin", branch)
}

// Show returns the content of path at ref in origin.
func Show(t testing.TB, origin, ref, path string) string {
	t.Helper()
	return Git(t, origin, "show", ref+":"+path)
}

// BranchExists reports whether origin has branch.
func BranchExists(t testing.TB, origin, branch string) bool {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = origin
	return cmd.Run() == nil
}
