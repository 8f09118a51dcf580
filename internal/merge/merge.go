// Package merge reconciles ranked agent branches into the final branch.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metalagman/swarm/internal/git"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/workspace"
	"github.com/rs/zerolog/log"
)

// workspaceKey names the arena slot of the merge workspace.
const workspaceKey = "_merge"

// Target identifies the repository and feature being merged.
type Target struct {
	RepoURL    string
	Token      string
	Feature    string
	BaseBranch string
}

// Engine is the merge engine. It is the only writer of the final branch.
type Engine struct {
	arena  *workspace.Arena
	target Target
}

// New returns an engine working in a workspace from arena.
func New(arena *workspace.Arena, target Target) *Engine {
	return &Engine{arena: arena, target: target}
}

// FinalBranch returns the branch Merge writes.
func (e *Engine) FinalBranch() string {
	return model.FinalBranchName(model.RepoNameFromURL(e.target.RepoURL), e.target.Feature)
}

type candidate struct {
	model.RankedResult
	ref string
}

// Merge builds the final branch from ranked according to strategy and pushes
// it. Failed results are never merged. Candidates whose branch is missing on
// origin are skipped; with none left the error is model.ErrBranchUnavailable.
// A failed push yields model.ErrBranchPushFailed.
func (e *Engine) Merge(ctx context.Context, ranked []model.RankedResult, strategy model.MergeStrategy) (string, error) {
	successful := make([]model.RankedResult, 0, len(ranked))
	for _, r := range ranked {
		if r.Success {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return "", model.ErrNoSuccessfulAgents
	}

	ctx = git.WithToken(ctx, e.target.Token)
	ws, err := e.arena.Acquire(workspaceKey)
	if err != nil {
		return "", fmt.Errorf("acquire merge workspace: %w", err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			log.Warn().Err(err).Msg("release merge workspace")
		}
	}()

	final := e.FinalBranch()
	if err := e.prepare(ctx, ws.Dir, final); err != nil {
		return "", fmt.Errorf("prepare merge workspace: %w", err)
	}

	candidates := available(ctx, ws.Dir, successful)
	if len(candidates) == 0 {
		return "", model.ErrBranchUnavailable
	}

	kind := strategy.Kind
	if kind == "" {
		kind = model.MergeBestOverall
	}
	log.Info().Str("strategy", kind.String()).Str("final_branch", final).Int("candidates", len(candidates)).Msg("merging")

	switch kind {
	case model.MergeBestOverall:
		err = mergeCandidate(ctx, ws.Dir, candidates[0])
	case model.MergeBestPerFile:
		err = mergePerFile(ctx, ws.Dir, candidates)
	case model.MergeComposite:
		err = mergeComposite(ctx, ws.Dir, candidates)
	default:
		err = fmt.Errorf("unknown merge strategy %q", kind)
	}
	if err != nil {
		return "", err
	}

	if err := git.Push(ctx, ws.Dir, final); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrBranchPushFailed, err)
	}
	log.Info().Str("final_branch", final).Msg("final branch pushed")
	return final, nil
}

func (e *Engine) prepare(ctx context.Context, dir, final string) error {
	if err := git.Clone(ctx, e.target.RepoURL, dir); err != nil {
		return err
	}
	base := ""
	if e.target.BaseBranch != "" {
		base = "origin/" + e.target.BaseBranch
	}
	return git.CreateBranch(ctx, dir, final, base)
}

// available fetches each candidate branch, dropping those origin lacks.
func available(ctx context.Context, dir string, ranked []model.RankedResult) []candidate {
	var out []candidate
	for _, r := range ranked {
		if !git.RemoteBranchExists(ctx, dir, r.BranchName) {
			log.Warn().Err(model.ErrBranchUnavailable).Str("agent_id", r.AgentID).Str("branch", r.BranchName).Msg("skipping candidate")
			continue
		}
		ref, err := git.FetchBranch(ctx, dir, r.BranchName)
		if err != nil {
			log.Warn().Err(err).Str("agent_id", r.AgentID).Msg("skipping candidate")
			continue
		}
		out = append(out, candidate{RankedResult: r, ref: ref})
	}
	return out
}

func mergeMessage(c candidate) string {
	return fmt.Sprintf("Merge %s from agent %s (score %.3f)", c.BranchName, c.AgentID, c.CompositeScore)
}

// mergeCandidate merges c with --no-ff, resolving conflicts by taking the
// incoming side of every conflicting path.
func mergeCandidate(ctx context.Context, dir string, c candidate) error {
	msg := mergeMessage(c)
	conflicts, err := git.MergeNoFF(ctx, dir, c.ref, msg)
	if err == nil {
		log.Info().Str("agent_id", c.AgentID).Float64("score", c.CompositeScore).Msg("merged candidate")
		return nil
	}
	if !errors.Is(err, git.ErrConflict) {
		_ = git.AbortMerge(ctx, dir)
		return fmt.Errorf("merge %s: %w", c.BranchName, err)
	}
	log.Info().Err(model.ErrMergeConflict).Str("agent_id", c.AgentID).Strs("paths", conflicts).Msg("taking incoming side")
	if err := git.ResolveTakeIncoming(ctx, dir, conflicts, msg); err != nil {
		_ = git.AbortMerge(ctx, dir)
		return fmt.Errorf("resolve conflicts of %s: %w", c.BranchName, err)
	}
	return nil
}

// mergePerFile takes every changed path from the highest ranked candidate
// that touched it and records the result as one commit.
func mergePerFile(ctx context.Context, dir string, candidates []candidate) error {
	type source struct {
		path string
		from candidate
	}
	var plan []source
	owned := make(map[string]struct{})
	for _, c := range candidates {
		paths, err := git.ChangedBetween(ctx, dir, "HEAD", c.ref)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if _, taken := owned[p]; taken {
				continue
			}
			owned[p] = struct{}{}
			plan = append(plan, source{path: p, from: c})
		}
	}

	var body strings.Builder
	for _, s := range plan {
		if err := git.TakePath(ctx, dir, s.from.ref, s.path); err != nil {
			return err
		}
		fmt.Fprintf(&body, "%s <- %s\n", s.path, s.from.AgentID)
	}
	msg := fmt.Sprintf("Combine best file versions from %d agents\n\n%s", len(candidates), body.String())
	committed, err := git.CommitAll(ctx, dir, msg)
	if err != nil {
		return err
	}
	if !committed {
		log.Info().Msg("per-file merge produced no changes")
	}
	return nil
}

// mergeComposite merges the top candidate and then every further candidate
// whose changes do not overlap what is already merged.
func mergeComposite(ctx context.Context, dir string, candidates []candidate) error {
	base, err := git.HeadCommit(ctx, dir)
	if err != nil {
		return err
	}
	merged := make(map[string]struct{})
	for i, c := range candidates {
		paths, err := git.ChangedBetween(ctx, dir, base, c.ref)
		if err != nil {
			return err
		}
		if i > 0 {
			if p, overlap := firstOverlap(merged, paths); overlap {
				log.Info().Str("agent_id", c.AgentID).Str("path", p).Msg("skipping overlapping candidate")
				continue
			}
		}
		if err := mergeCandidate(ctx, dir, c); err != nil {
			return err
		}
		for _, p := range paths {
			merged[p] = struct{}{}
		}
	}
	return nil
}

func firstOverlap(set map[string]struct{}, paths []string) (string, bool) {
	for _, p := range paths {
		if _, ok := set[p]; ok {
			return p, true
		}
	}
	return "", false
}
