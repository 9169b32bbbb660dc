package pipeline

import (
	"context"
	"strings"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// broadRetrievalFloorScore is the flat score every keyword-only hit
// enters the candidate set with (spec.md §4.7 "Assign a floor score
// (e.g., 0.5) tagged keyword"), before hybrid_merge or final_scoring
// recompute anything more precise.
const broadRetrievalFloorScore = 0.5

// tokenize splits query into its keyword-search tokens, dropping any
// shorter than 3 characters (spec.md §4.7 "split query into tokens > 2
// chars"). Grounded on the teacher's expander.go tokenizing approach,
// generalized since C3 already handles stemming/stop-words itself —
// this only decides which tokens are worth sending at all.
func tokenize(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordSearchAndMerge runs one keyword query against C3 and folds
// the hits into cs as floor-scored, keyword-tagged candidates.
func keywordSearchAndMerge(ctx context.Context, deps *Deps, cs *CandidateSet, searchQuery string, limit int) error {
	if deps.Keyword == nil {
		return nil
	}
	hits, err := deps.Keyword.Search(ctx, searchQuery, limit)
	if err != nil {
		return err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	chunks := fetchChunks(ctx, deps.ChunkStore, ids)

	incoming := make([]Candidate, len(hits))
	for i, h := range hits {
		c := candidateFromChunk(h.DocID, broadRetrievalFloorScore, chunkmodel.StrategyKeyword, chunks[h.DocID])
		c.KeywordScore = broadRetrievalFloorScore
		c.Explanation = "matched keywords: " + strings.Join(h.MatchedTerms, ", ")
		incoming[i] = c
	}
	mergeInto(cs, incoming)
	return nil
}

// stageBroadRetrieval splits the query into its significant tokens and
// issues one C3 keyword search over the joined tokens.
func stageBroadRetrieval(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	tokens := tokenize(query)
	searchQuery := query
	if len(tokens) > 0 {
		searchQuery = strings.Join(tokens, " ")
	}
	if err := keywordSearchAndMerge(ctx, deps, cs, searchQuery, limit); err != nil {
		return cs, err
	}
	return cs, nil
}

// stageExhaustiveKeyword is the research profile's up-front keyword
// sweep: the base query plus every generated variant, each searched
// and merged independently.
func stageExhaustiveKeyword(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	queries := append([]string{query}, generateQueryVariants(query)...)
	for _, q := range queries {
		if err := keywordSearchAndMerge(ctx, deps, cs, q, limit); err != nil {
			return cs, err
		}
	}
	return cs, nil
}

// vectorSearchAndMerge embeds searchQuery, runs it against C2, and
// folds the hits into cs as vector-tagged candidates.
func vectorSearchAndMerge(ctx context.Context, deps *Deps, cs *CandidateSet, searchQuery string, limit int) error {
	if deps.Embedder == nil || deps.Vector == nil {
		return nil
	}
	vec, err := deps.Embedder.Embed(ctx, searchQuery)
	if err != nil {
		return err
	}
	hits, err := deps.Vector.Search(ctx, vec, limit)
	if err != nil {
		return err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks := fetchChunks(ctx, deps.ChunkStore, ids)

	incoming := make([]Candidate, len(hits))
	for i, h := range hits {
		score := float64(h.Score)
		c := candidateFromChunk(h.ID, score, chunkmodel.StrategySemantic, chunks[h.ID])
		c.VectorScore = score
		incoming[i] = c
	}
	mergeInto(cs, incoming)
	return nil
}

// stageVectorSearch embeds the query once and runs a single C2 lookup.
func stageVectorSearch(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	if err := vectorSearchAndMerge(ctx, deps, cs, query, limit); err != nil {
		return cs, err
	}
	return cs, nil
}

// stageDeepVector is the research profile's exhaustive vector sweep:
// the base query plus every generated variant, each embedded and
// searched independently.
func stageDeepVector(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error) {
	queries := append([]string{query}, generateQueryVariants(query)...)
	for _, q := range queries {
		if err := vectorSearchAndMerge(ctx, deps, cs, q, limit); err != nil {
			return cs, err
		}
	}
	return cs, nil
}
