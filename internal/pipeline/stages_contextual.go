package pipeline

import (
	"context"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/contextual"
)

// documentExpansionDecay is how much a sibling chunk pulled in by
// document_expansion is discounted relative to the candidate that
// earned it a look (it matched by association, not by its own score).
const documentExpansionDecay = 0.8

// stageContextual re-runs keyword and vector search with a C6-enhanced
// query and merges the hits in, tagged contextual (spec.md §4.7
// "Contextual: re-run search with an enhanced query from C6").
func stageContextual(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	if deps.Enhancer == nil {
		return cs, nil
	}

	enhanced, err := deps.Enhancer.Enhance(ctx, query, contextual.StrategyExpand, contextual.DocumentContext{})
	if err != nil {
		return cs, err
	}

	before := &CandidateSet{Candidates: nil}
	if err := keywordSearchAndMerge(ctx, deps, before, enhanced.EnhancedText, limit); err != nil {
		return cs, err
	}
	if err := vectorSearchAndMerge(ctx, deps, before, enhanced.EnhancedText, limit); err != nil {
		return cs, err
	}
	for i := range before.Candidates {
		before.Candidates[i].Strategy = chunkmodel.StrategyContextual
	}
	mergeInto(cs, before.Candidates)
	return cs, nil
}

// stageDocumentExpansion pulls in sibling chunks from the same source
// as each current top candidate, on the premise that a source relevant
// enough to surface one chunk likely has other relevant chunks nearby.
// Discounted by documentExpansionDecay since they matched by
// association rather than their own content score.
func stageDocumentExpansion(ctx context.Context, _ string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	if deps.ChunkStore == nil {
		return cs, nil
	}

	seen := make(map[string]bool, len(cs.Candidates))
	for _, c := range cs.Candidates {
		seen[c.ChunkID] = true
	}

	top := cs.Candidates
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}

	var expanded []Candidate
	seenSources := make(map[string]bool)
	for _, c := range top {
		parent, err := deps.ChunkStore.GetChunk(ctx, c.ChunkID)
		if err != nil || parent == nil || parent.SourceID == "" || seenSources[parent.SourceID] {
			continue
		}
		seenSources[parent.SourceID] = true

		siblings, err := deps.ChunkStore.GetChunksBySource(ctx, parent.SourceID)
		if err != nil {
			continue
		}
		for _, sib := range siblings {
			if seen[sib.ID] {
				continue
			}
			seen[sib.ID] = true
			expanded = append(expanded, Candidate{
				SearchResult: chunkmodel.SearchResult{
					ChunkID:     sib.ID,
					Content:     sib.Content,
					Score:       c.Score * documentExpansionDecay,
					SourceMeta:  sib.Meta,
					Strategy:    c.Strategy,
					Explanation: "expanded from " + c.ChunkID,
				},
			})
		}
	}

	mergeInto(cs, expanded)
	return cs, nil
}
