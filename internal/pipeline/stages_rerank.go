package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/rerank"
)

// Heuristic rerank multipliers, spec.md §4.7 verbatim.
const (
	exactMatchMultiplier  = 1.3
	titleMatchMultiplier  = 1.2
	recencyBoostMax       = 0.1
	recencyWindowDays     = 365.0
	hasCodeMultiplier     = 1.15
	lengthMismatchPenalty = 0.9
	idealChunkLength      = 500.0
	lengthRatioFloor      = 0.2
	lengthRatioCeiling    = 5.0
)

// stageHeuristicRerank applies spec.md §4.7's multiplicative score
// adjustments — exact/title substring matches, recency, has-code,
// length-vs-ideal — grounded on the teacher's options.go
// ApplyTestFilePenalty/ApplyPathBoost pattern of in-place score
// multipliers followed by a re-sort.
func stageHeuristicRerank(_ context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, _ *Deps) (*CandidateSet, error) {
	lowerQuery := strings.ToLower(query)

	for i := range cs.Candidates {
		c := &cs.Candidates[i]
		score := c.Score

		if lowerQuery != "" && strings.Contains(strings.ToLower(c.Content), lowerQuery) {
			score *= exactMatchMultiplier
		}
		if lowerQuery != "" && strings.Contains(strings.ToLower(c.SourceMeta.Title), lowerQuery) {
			score *= titleMatchMultiplier
		}

		if !c.SourceMeta.CreatedAt.IsZero() {
			days := time.Since(c.SourceMeta.CreatedAt).Hours() / 24
			if days < 0 {
				days = 0
			}
			if days > recencyWindowDays {
				days = recencyWindowDays
			}
			recency := 1 - days/recencyWindowDays
			score *= 1 + recencyBoostMax*recency
		}

		if c.SourceMeta.HasCode {
			score *= hasCodeMultiplier
		}

		if len(c.Content) > 0 {
			ratio := float64(len(c.Content)) / idealChunkLength
			if ratio < lengthRatioFloor || ratio > lengthRatioCeiling {
				score *= lengthMismatchPenalty
			}
		}

		c.Score = score
	}

	truncateToLimit(cs, limit)
	return cs, nil
}

// stageCrossEncoderRerank delegates to C5, reordering candidates by
// the returned relevance scores (spec.md §4.7 "Cross-encoder rerank:
// delegate to C5"). The reranker never fails the caller, so any error
// here is itself unusual and handled like any other stage failure by
// runStage's pass-through.
func stageCrossEncoderRerank(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	if deps.Reranker == nil || len(cs.Candidates) == 0 {
		return cs, nil
	}

	documents := make([]string, len(cs.Candidates))
	for i, c := range cs.Candidates {
		documents[i] = c.Content
	}

	results, err := deps.Reranker.Rerank(ctx, query, documents, limit)
	if err != nil {
		return cs, err
	}

	reordered := make([]Candidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(cs.Candidates) {
			continue
		}
		c := cs.Candidates[r.Index]
		original := c.Score
		c.Annotations.OriginalScore = &original
		rerankScore := r.Score
		c.Annotations.CrossEncoderScore = &rerankScore
		c.Score = rerank.Combine(original, rerankScore)
		reordered = append(reordered, c)
	}
	if len(reordered) > 0 {
		cs.Candidates = reordered
	}

	truncateToLimit(cs, limit)
	return cs, nil
}
