package report

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PullRequest describes the pull request opened for the final branch.
type PullRequest struct {
	Repo  string
	Head  string
	Base  string
	Title string
	Body  string
}

// PullRequester opens pull requests and returns their URL.
type PullRequester interface {
	Create(ctx context.Context, pr PullRequest) (string, error)
}

// GH opens pull requests with the GitHub CLI.
type GH struct {
	// Binary defaults to "gh".
	Binary string
	// Env is appended to the process environment, e.g. GH_TOKEN.
	Env []string
}

func (g GH) Create(ctx context.Context, pr PullRequest) (string, error) {
	bin := g.Binary
	if bin == "" {
		bin = "gh"
	}
	args := []string{"pr", "create",
		"--repo", GitHubRepo(pr.Repo),
		"--head", pr.Head,
		"--title", pr.Title,
		"--body", pr.Body,
	}
	if pr.Base != "" {
		args = append(args, "--base", pr.Base)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(cmd.Environ(), g.Env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gh pr create: %s: %w", strings.TrimSpace(string(out)), err)
	}
	url := lastURL(string(out))
	if url == "" {
		return "", fmt.Errorf("gh pr create: no URL in output %q", strings.TrimSpace(string(out)))
	}
	return url, nil
}

func lastURL(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "https://") || strings.HasPrefix(line, "http://") {
			return line
		}
	}
	return ""
}

// GitHubRepo converts a clone URL into the [HOST/]OWNER/REPO form gh expects.
func GitHubRepo(remote string) string {
	s := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(remote), "/"), ".git")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if at := strings.LastIndex(s, "@"); at >= 0 {
			s = s[at+1:]
		}
	} else if at := strings.Index(s, "@"); at >= 0 {
		s = strings.Replace(s[at+1:], ":", "/", 1)
	}
	return strings.TrimPrefix(s, "github.com/")
}
