package git

import (
	"context"
	"fmt"
)

// Clone clones remote into dest.
func Clone(ctx context.Context, remote, dest string) error {
	if err := RunCmdErr(ctx, "", "git", "clone", "--no-tags", remote, dest); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

// CreateBranch creates name from base (or HEAD when base is empty) and checks it out.
func CreateBranch(ctx context.Context, dir, name, base string) error {
	args := []string{"checkout", "-b", name}
	if base != "" {
		args = append(args, base)
	}
	if err := RunCmdErr(ctx, dir, "git", args...); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// Push publishes branch to origin and sets upstream. Branches pushed by swarm
// have a single writer, so an earlier run's branch is overwritten.
func Push(ctx context.Context, dir, branch string) error {
	if err := RunCmdErr(ctx, dir, "git", "push", "--force", "-u", "origin", branch); err != nil {
		return fmt.Errorf("git push %s: %w", branch, err)
	}
	return nil
}

// RemoteBranchExists reports whether origin has branch.
func RemoteBranchExists(ctx context.Context, dir, branch string) bool {
	return RunCmdErr(ctx, dir, "git", "ls-remote", "--exit-code", "--heads", "origin", branch) == nil
}

// FetchBranch fetches branch into refs/remotes/origin/<branch> and returns that ref.
func FetchBranch(ctx context.Context, dir, branch string) (string, error) {
	ref := "refs/remotes/origin/" + branch
	if err := RunCmdErr(ctx, dir, "git", "fetch", "--no-tags", "origin", "+refs/heads/"+branch+":"+ref); err != nil {
		return "", fmt.Errorf("git fetch %s: %w", branch, err)
	}
	return ref, nil
}
