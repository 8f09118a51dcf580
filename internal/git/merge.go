package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrConflict is returned by MergeNoFF when the merge stopped on conflicts.
var ErrConflict = errors.New("merge conflict")

// MergeNoFF merges ref into the current branch, always creating a merge
// commit. On conflicts it returns the conflicting paths and ErrConflict with
// the merge left in progress.
func MergeNoFF(ctx context.Context, dir, ref, message string) ([]string, error) {
	err := RunCmdErr(ctx, dir, "git", "merge", "--no-ff", "--no-edit", "-m", message, ref)
	if err == nil {
		return nil, nil
	}
	conflicts, listErr := ConflictedPaths(ctx, dir)
	if listErr != nil {
		return nil, fmt.Errorf("git merge %s: %w (listing conflicts: %v)", ref, err, listErr)
	}
	if len(conflicts) == 0 {
		return nil, fmt.Errorf("git merge %s: %w", ref, err)
	}
	return conflicts, fmt.Errorf("git merge %s: %w", ref, ErrConflict)
}

// ConflictedPaths lists unmerged paths of an in-progress merge.
func ConflictedPaths(ctx context.Context, dir string) ([]string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list unmerged paths: %w", err)
	}
	return splitLines(out), nil
}

// ResolveTakeIncoming resolves every conflicting path with the incoming
// side's content and concludes the merge with message.
func ResolveTakeIncoming(ctx context.Context, dir string, paths []string, message string) error {
	for _, p := range paths {
		if err := RunCmdErr(ctx, dir, "git", "checkout", "--theirs", "--", p); err != nil {
			// Deleted on the incoming side.
			log.Debug().Str("path", p).Msg("incoming side has no version, removing path")
			if rmErr := RunCmdErr(ctx, dir, "git", "rm", "--quiet", "--", p); rmErr != nil {
				return fmt.Errorf("resolve %s: %w", p, rmErr)
			}
			continue
		}
		if err := RunCmdErr(ctx, dir, "git", "add", "--", p); err != nil {
			return fmt.Errorf("stage resolved %s: %w", p, err)
		}
	}
	if err := RunCmdErr(ctx, dir, "git", "commit", "--no-verify", "--no-edit", "-m", message); err != nil {
		return fmt.Errorf("commit merge resolution: %w", err)
	}
	return nil
}

// AbortMerge abandons an in-progress merge.
func AbortMerge(ctx context.Context, dir string) error {
	return RunCmdErr(ctx, dir, "git", "merge", "--abort")
}

// PathExists reports whether path exists in the tree of ref.
func PathExists(ctx context.Context, dir, ref, path string) bool {
	return RunCmdErr(ctx, dir, "git", "cat-file", "-e", ref+":"+path) == nil
}

// TakePath makes path in the work tree and index match ref, removing it when
// ref does not have it.
func TakePath(ctx context.Context, dir, ref, path string) error {
	if PathExists(ctx, dir, ref, path) {
		if err := RunCmdErr(ctx, dir, "git", "checkout", ref, "--", path); err != nil {
			return fmt.Errorf("checkout %s from %s: %w", path, ref, err)
		}
		return nil
	}
	if err := RunCmdErr(ctx, dir, "git", "rm", "--quiet", "--ignore-unmatch", "--", path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
