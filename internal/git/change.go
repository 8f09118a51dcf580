package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AddAll stages every change in the work tree.
func AddAll(ctx context.Context, dir string) error {
	if err := RunCmdErr(ctx, dir, "git", "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	return nil
}

// HasChanges reports whether the work tree or index differ from HEAD.
func HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages everything and commits it. It reports false when there was
// nothing to commit.
func CommitAll(ctx context.Context, dir, message string) (bool, error) {
	if err := AddAll(ctx, dir); err != nil {
		return false, err
	}
	dirty, err := HasChanges(ctx, dir)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	if err := RunCmdErr(ctx, dir, "git", "commit", "--no-verify", "-m", message); err != nil {
		return false, fmt.Errorf("git commit: %w", err)
	}
	return true, nil
}

// NumStat holds the line counts of one changed file.
type NumStat struct {
	Path    string
	Added   int
	Removed int
}

// DiffNumStat compares the work tree with base, including untracked files,
// whose lines all count as added. Binary files count as zero lines.
func DiffNumStat(ctx context.Context, dir, base string) ([]NumStat, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "diff", "--numstat", base)
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat: %w", err)
	}
	stats := parseNumStat(out)

	untracked, err := Untracked(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, p := range untracked {
		stats = append(stats, NumStat{Path: p, Added: countLines(filepath.Join(dir, p))})
	}
	return stats, nil
}

func parseNumStat(out string) []NumStat {
	var stats []NumStat
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		added, _ := strconv.Atoi(fields[0])
		removed, _ := strconv.Atoi(fields[1])
		stats = append(stats, NumStat{Path: fields[2], Added: added, Removed: removed})
	}
	return stats
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 || bytes.IndexByte(data, 0) >= 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// ChangedFiles lists paths that differ from base plus untracked files, in
// diff order, without duplicates.
func ChangedFiles(ctx context.Context, dir, base string) ([]string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "diff", "--name-only", base)
	if err != nil {
		return nil, fmt.Errorf("git diff --name-only: %w", err)
	}
	untracked, err := Untracked(ctx, dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	paths := []string{}
	for _, p := range append(splitLines(out), untracked...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths, nil
}

// ChangedBetween lists paths that differ between two committed revisions.
func ChangedBetween(ctx context.Context, dir, from, to string) ([]string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "diff", "--name-only", from+"..."+to)
	if err != nil {
		return nil, fmt.Errorf("git diff %s...%s: %w", from, to, err)
	}
	return splitLines(out), nil
}

// Untracked lists untracked files that are not ignored.
func Untracked(ctx context.Context, dir string) ([]string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}
	return splitLines(out), nil
}

func splitLines(out string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
