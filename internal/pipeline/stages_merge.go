package pipeline

import (
	"context"
	"math"
	"sort"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// vectorWeight/keywordWeight implement spec.md §4.7's hybrid_merge
// formula: score = 0.7·vector + 0.3·keyword.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// combineStrategyScores applies the hybrid_merge blend in place over
// cs.Candidates, re-tagging blended entries as hybrid. Candidates that
// only ever matched by keyword get a rank-based score in [0,1]
// (1 - i/N, spec.md §4.7) instead of the floor score they entered with.
func combineStrategyScores(cs *CandidateSet, resultStrategy chunkmodel.Strategy) {
	var keywordOnly []int
	for i, c := range cs.Candidates {
		switch {
		case c.VectorScore > 0 && c.KeywordScore > 0:
			cs.Candidates[i].Score = vectorWeight*c.VectorScore + keywordWeight*c.KeywordScore
			cs.Candidates[i].Strategy = resultStrategy
		case c.VectorScore > 0:
			cs.Candidates[i].Score = c.VectorScore
		case c.KeywordScore > 0:
			keywordOnly = append(keywordOnly, i)
		}
	}

	sort.SliceStable(keywordOnly, func(a, b int) bool {
		return cs.Candidates[keywordOnly[a]].KeywordScore > cs.Candidates[keywordOnly[b]].KeywordScore
	})
	n := float64(len(keywordOnly))
	for rank, idx := range keywordOnly {
		cs.Candidates[idx].Score = 1 - float64(rank)/math.Max(n, 1)
	}
}

func truncateToLimit(cs *CandidateSet, limit int) {
	sortByScoreDesc(cs.Candidates)
	if limit > 0 && len(cs.Candidates) > limit {
		cs.Candidates = cs.Candidates[:limit]
	}
}

// stageHybridMerge folds the keyword and vector candidate pools
// already present in cs into single weighted scores per chunk id.
func stageHybridMerge(_ context.Context, _ string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, _ *Deps) (*CandidateSet, error) {
	combineStrategyScores(cs, chunkmodel.StrategyHybrid)
	truncateToLimit(cs, limit)
	return cs, nil
}

// stageMultiStrategy is the research profile's analogue of
// hybrid_merge, run after the exhaustive_keyword/deep_vector/
// semantic-variant sweeps: the same weighted blend, tagged as a
// multi-variant consensus result instead of a plain hybrid one.
func stageMultiStrategy(_ context.Context, _ string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, _ *Deps) (*CandidateSet, error) {
	combineStrategyScores(cs, chunkmodel.StrategyMultiVariant)
	truncateToLimit(cs, limit)
	return cs, nil
}
