// Package git drives the git CLI as the version-control collaborator.
package git

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Identity used for commits made by swarm itself.
var (
	AuthorName  = "swarm"
	AuthorEmail = "swarm@localhost"
)

type tokenKey struct{}

// WithToken returns a context whose git commands authenticate to https
// remotes with token. The token is passed as an http.extraHeader through the
// command environment and never appears in argv or .git/config.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func authEnv(ctx context.Context) []string {
	token, _ := ctx.Value(tokenKey{}).(string)
	if token == "" {
		return nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + basic,
	}
}

func command(ctx context.Context, dir string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME="+AuthorName,
		"GIT_AUTHOR_EMAIL="+AuthorEmail,
		"GIT_COMMITTER_NAME="+AuthorName,
		"GIT_COMMITTER_EMAIL="+AuthorEmail,
	)
	cmd.Env = append(cmd.Env, authEnv(ctx)...)
	return cmd
}

// redact strips credentials from URL arguments before they are logged.
func redact(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = arg
		if !strings.Contains(arg, "://") {
			continue
		}
		if u, err := url.Parse(arg); err == nil && u.User != nil {
			u.User = nil
			out[i] = u.String()
		}
	}
	return out
}

func RunCmdOutput(ctx context.Context, dir string, name string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", redact(args)).Msg("running git command (output return)")
	cmd := command(ctx, dir, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

func RunCmdErr(ctx context.Context, dir string, name string, args ...string) error {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", redact(args)).Msg("running git command (err return)")
	out, err := command(ctx, dir, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// HeadCommit returns the commit hash HEAD points to.
func HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := RunCmdOutput(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}
