// Package scoring turns agent results into a composite score and a stable
// ranking.
package scoring

import (
	"sort"

	"github.com/metalagman/swarm/internal/model"
)

// buildBonus is added to the composite score of a successful build.
const buildBonus = 0.1

// perfBaselineMS is the execution time at or below which perf scores 1.
const perfBaselineMS = 10000.0

// Score computes the composite score of r. The coverage weight takes no part.
func Score(r model.AgentResult, w model.Weights) float64 {
	testScore := 0.0
	if ts := r.TestSummary; ts != nil && ts.Total > 0 {
		testScore = float64(ts.Passed) / float64(ts.Total)
	}
	buildScore := 0.0
	if r.BuildStatus == model.BuildSuccess {
		buildScore = 1
	}
	quality := r.Metrics.QualityScore / 100
	perf := 1.0
	if ms := r.Metrics.ExecutionTimeMS; ms > 0 {
		perf = min(1, perfBaselineMS/float64(ms))
	}
	return testScore*w.TestSuccess +
		quality*w.CodeQuality +
		perf*w.Performance +
		buildScore*buildBonus
}

// Rank scores every result and orders them by descending score. Ties keep
// their input order.
func Rank(results []model.AgentResult, w model.Weights) []model.RankedResult {
	ranked := make([]model.RankedResult, len(results))
	for i, r := range results {
		ranked[i] = model.RankedResult{AgentResult: r, CompositeScore: Score(r, w)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CompositeScore > ranked[j].CompositeScore
	})
	return ranked
}

// RankSuccessful ranks only successful results. It returns
// model.ErrNoSuccessfulAgents when there are none.
func RankSuccessful(results []model.AgentResult, w model.Weights) ([]model.RankedResult, error) {
	ok := make([]model.AgentResult, 0, len(results))
	for _, r := range results {
		if r.Success {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil, model.ErrNoSuccessfulAgents
	}
	return Rank(ok, w), nil
}
