package pipeline

import (
	"context"
	"strings"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// stageContextEnrichment fetches the previous/next chunk in each top
// candidate's source and attaches their text as Context (spec.md §4.7
// "fetch adjacent chunks ... and attach as context metadata"),
// grounded on the teacher's enrichResultsWithAdjacent before/after
// scan generalized from line-range adjacency to ChunkIndex adjacency.
func stageContextEnrichment(ctx context.Context, _ string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	if deps.ChunkStore == nil {
		return cs, nil
	}

	n := len(cs.Candidates)
	if limit > 0 && limit < n {
		n = limit
	}

	siblingsBySource := make(map[string][]*chunkmodel.Chunk)

	for i := 0; i < n; i++ {
		c := &cs.Candidates[i]
		parent, err := deps.ChunkStore.GetChunk(ctx, c.ChunkID)
		if err != nil || parent == nil {
			continue
		}

		siblings, ok := siblingsBySource[parent.SourceID]
		if !ok {
			siblings, err = deps.ChunkStore.GetChunksBySource(ctx, parent.SourceID)
			if err != nil {
				continue
			}
			siblingsBySource[parent.SourceID] = siblings
		}

		var before, after string
		for _, sib := range siblings {
			if sib.ChunkIndex == parent.ChunkIndex-1 {
				before = sib.Content
			}
			if sib.ChunkIndex == parent.ChunkIndex+1 {
				after = sib.Content
			}
		}

		var ctxParts []string
		if before != "" {
			ctxParts = append(ctxParts, before)
		}
		if after != "" {
			ctxParts = append(ctxParts, after)
		}
		if len(ctxParts) > 0 {
			c.Context = strings.Join(ctxParts, "\n---\n")
			c.Annotations.ContextEnriched = true
		}
	}

	return cs, nil
}

// stageSemanticExpansion generates 2-3 query variants (spec.md §4.7
// "pluralization, simple synonym table, 'what is X?', 'how to X?'")
// and merges their top keyword+vector hits into cs.
func stageSemanticExpansion(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	for _, variant := range generateQueryVariants(query) {
		if err := keywordSearchAndMerge(ctx, deps, cs, variant, limit); err != nil {
			return cs, err
		}
		if err := vectorSearchAndMerge(ctx, deps, cs, variant, limit); err != nil {
			return cs, err
		}
	}
	truncateToLimit(cs, limit)
	return cs, nil
}

// Final-scoring confidence multipliers, spec.md §4.7 verbatim.
const (
	contextualConfidence     = 1.1
	hybridConfidence         = 1.05
	contextEnrichedConfidence = 1.1
	hasCodeConfidence        = 1.05
)

// stageFinalScoring clamps every score to [0,1], applies the
// per-candidate confidence adjustment, computes final_score =
// score × confidence, sorts descending, and truncates to limit.
func stageFinalScoring(_ context.Context, _ string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, _ *Deps) (*CandidateSet, error) {
	for i := range cs.Candidates {
		c := &cs.Candidates[i]
		if c.Score < 0 {
			c.Score = 0
		}
		if c.Score > 1 {
			c.Score = 1
		}

		confidence := 1.0
		if c.Strategy == chunkmodel.StrategyContextual {
			confidence *= contextualConfidence
		}
		if c.Strategy == chunkmodel.StrategyHybrid {
			confidence *= hybridConfidence
		}
		if c.Annotations.ContextEnriched {
			confidence *= contextEnrichedConfidence
		}
		if c.SourceMeta.HasCode {
			confidence *= hasCodeConfidence
		}

		c.Confidence = confidence
		c.Score = c.Score * confidence
		if c.Score > 1 {
			c.Score = 1
		}
	}

	truncateToLimit(cs, limit)
	return cs, nil
}
