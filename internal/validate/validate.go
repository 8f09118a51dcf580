// Package validate probes a workspace for test, build and end-to-end
// commands. Each capability has an ordered list of candidate invocations; the
// first one that exits 0 is used.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/proc"
	"github.com/rs/zerolog/log"
)

// Config lists candidate commands per capability plus the directories that
// end-to-end runners leave artifacts in.
type Config struct {
	Test         [][]string `json:"test"          mapstructure:"test"`
	Build        [][]string `json:"build"         mapstructure:"build"`
	E2E          [][]string `json:"e2e"           mapstructure:"e2e"`
	ArtifactDirs []string   `json:"artifact_dirs" mapstructure:"artifact_dirs"`
	Parsers      Parsers    `json:"parsers"       mapstructure:"parsers"`
}

// Parsers names the result parser chain per capability, tried in order.
type Parsers struct {
	Test []string `json:"test" mapstructure:"test"`
	E2E  []string `json:"e2e"  mapstructure:"e2e"`
}

// DefaultConfig returns the candidates tried when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Test: [][]string{
			{"npm", "test", "--silent"},
			{"go", "test", "-json", "./..."},
			{"make", "test"},
		},
		Build: [][]string{
			{"npm", "run", "build"},
			{"go", "build", "./..."},
			{"make", "build"},
		},
		E2E: [][]string{
			{"npx", "--no-install", "playwright", "test", "--reporter=line"},
			{"npm", "run", "test:e2e"},
		},
		ArtifactDirs: []string{"test-results", "playwright-report"},
		Parsers: Parsers{
			Test: []string{ParserMocha, ParserGoTest, ParserJSON},
			E2E:  []string{ParserPlaywright, ParserJSON},
		},
	}
}

// Attempt is the outcome of one candidate invocation.
type Attempt struct {
	Cmd      []string
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner executes validation inside one workspace.
type Runner struct {
	cfg          Config
	testParsers  []ResultParser
	e2eParsers   []ResultParser
	log          io.Writer
	artifactDest string
}

// Option customises a Runner.
type Option func(*Runner)

// WithLog tees every candidate's output into w.
func WithLog(w io.Writer) Option {
	return func(r *Runner) { r.log = w }
}

// WithArtifactDest copies end-to-end artifacts into dir so they outlive the
// workspace.
func WithArtifactDest(dir string) Option {
	return func(r *Runner) { r.artifactDest = dir }
}

// NewRunner builds a runner for cfg. Empty parser lists fall back to the
// default chains.
func NewRunner(cfg Config, opts ...Option) *Runner {
	def := DefaultConfig().Parsers
	test, e2e := cfg.Parsers.Test, cfg.Parsers.E2E
	if len(test) == 0 {
		test = def.Test
	}
	if len(e2e) == 0 {
		e2e = def.E2E
	}
	r := &Runner{
		cfg:         cfg,
		testParsers: ParserChain(test),
		e2eParsers:  ParserChain(e2e),
		log:         io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Probe runs candidates in order and returns the first attempt that exits 0.
// It returns model.ErrValidationSkipped with every attempt when none does.
func (r *Runner) Probe(ctx context.Context, dir string, candidates [][]string) (Attempt, []Attempt, error) {
	var attempts []Attempt
	for _, cmd := range candidates {
		if len(cmd) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return Attempt{}, attempts, ctx.Err()
		}
		var out bytes.Buffer
		w := io.MultiWriter(&out, r.log)
		fmt.Fprintf(r.log, "$ %s\n", strings.Join(cmd, " "))

		start := time.Now()
		code, err := proc.Run(ctx, proc.Spec{Cmd: cmd, Dir: dir, Stdout: w, Stderr: w})
		a := Attempt{Cmd: cmd, ExitCode: code, Output: out.String(), Duration: time.Since(start)}
		if err != nil {
			log.Debug().Err(err).Strs("cmd", cmd).Msg("validation candidate did not run")
			if errors.Is(err, proc.ErrTimeout) || errors.Is(err, context.Canceled) {
				return Attempt{}, append(attempts, a), err
			}
			continue
		}
		attempts = append(attempts, a)
		if code == 0 {
			return a, attempts, nil
		}
	}
	return Attempt{}, attempts, model.ErrValidationSkipped
}

// Test runs the unit test capability. Without an exit-0 candidate the
// summary is zero.
func (r *Runner) Test(ctx context.Context, dir string) *model.TestSummary {
	a, ok := r.succeeded(ctx, dir, "test", r.cfg.Test)
	if !ok {
		return &model.TestSummary{}
	}
	c, _ := FirstMatch(r.testParsers, a.Output)
	return &model.TestSummary{
		Passed:   c.Passed,
		Failed:   c.Failed,
		Total:    c.Total(),
		Duration: a.Duration.Milliseconds(),
	}
}

// Build runs the build capability.
func (r *Runner) Build(ctx context.Context, dir string) model.BuildStatus {
	_, _, err := r.Probe(ctx, dir, r.cfg.Build)
	if err != nil {
		if errors.Is(err, model.ErrValidationSkipped) {
			log.Info().Str("dir", dir).Str("capability", "build").Msg(model.ErrValidationSkipped.Error())
		}
		return model.BuildFailed
	}
	return model.BuildSuccess
}

// E2E runs the end-to-end capability and collects its artifacts.
func (r *Runner) E2E(ctx context.Context, dir string) *model.E2ESummary {
	sum := &model.E2ESummary{ArtifactPaths: []string{}}
	a, ok := r.succeeded(ctx, dir, "e2e", r.cfg.E2E)
	if !ok {
		return sum
	}
	c, _ := FirstMatch(r.e2eParsers, a.Output)
	sum.Passed = c.Passed
	sum.Failed = c.Failed
	sum.Total = c.Total()
	sum.Duration = a.Duration.Milliseconds()
	sum.ArtifactPaths = r.collectArtifacts(dir)
	return sum
}

func (r *Runner) succeeded(ctx context.Context, dir, capability string, candidates [][]string) (Attempt, bool) {
	a, _, err := r.Probe(ctx, dir, candidates)
	switch {
	case err == nil:
		return a, true
	case errors.Is(err, model.ErrValidationSkipped):
		log.Info().Str("dir", dir).Str("capability", capability).Msg(model.ErrValidationSkipped.Error())
	default:
		log.Warn().Err(err).Str("dir", dir).Str("capability", capability).Msg("validation interrupted")
	}
	return Attempt{}, false
}

// collectArtifacts lists files below the artifact dirs, relative to dir, or
// their copies below artifactDest when set.
func (r *Runner) collectArtifacts(dir string) []string {
	paths := []string{}
	for _, rel := range r.cfg.ArtifactDirs {
		root := filepath.Join(dir, rel)
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			relPath, relErr := filepath.Rel(dir, p)
			if relErr != nil {
				return nil
			}
			if r.artifactDest == "" {
				paths = append(paths, filepath.ToSlash(relPath))
				return nil
			}
			dst := filepath.Join(r.artifactDest, relPath)
			if err := copyFile(p, dst); err != nil {
				log.Warn().Err(err).Str("artifact", relPath).Msg("copy e2e artifact")
				return nil
			}
			paths = append(paths, dst)
			return nil
		})
	}
	sort.Strings(paths)
	return paths
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
