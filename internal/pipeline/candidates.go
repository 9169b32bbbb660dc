package pipeline

import (
	"context"
	"sort"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// mergeInto folds incoming candidates into cs.Candidates, deduplicating
// by ChunkID. Per spec.md §4.7 "Deduplication": identical chunk ids
// collapse and the maximum of observed scores is retained. Per-strategy
// subscores (KeywordScore/VectorScore) are unioned rather than
// overwritten so hybrid_merge can later see both.
func mergeInto(cs *CandidateSet, incoming []Candidate) {
	index := make(map[string]int, len(cs.Candidates))
	for i, c := range cs.Candidates {
		index[c.ChunkID] = i
	}

	for _, in := range incoming {
		if i, ok := index[in.ChunkID]; ok {
			existing := &cs.Candidates[i]
			if in.Score > existing.Score {
				existing.Score = in.Score
			}
			if in.KeywordScore > existing.KeywordScore {
				existing.KeywordScore = in.KeywordScore
			}
			if in.VectorScore > existing.VectorScore {
				existing.VectorScore = in.VectorScore
			}
			if existing.Content == "" {
				existing.Content = in.Content
			}
			if existing.SourceMeta.Title == "" {
				existing.SourceMeta = in.SourceMeta
			}
			continue
		}
		index[in.ChunkID] = len(cs.Candidates)
		cs.Candidates = append(cs.Candidates, in)
	}
}

// sortByScoreDesc orders candidates by Score, highest first.
func sortByScoreDesc(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

// fetchChunks batch-resolves ids into a by-id map, tolerating a nil
// store (stages that don't have a ChunkStore configured degrade to
// id/score-only candidates rather than erroring).
func fetchChunks(ctx context.Context, store ChunkStore, ids []string) map[string]*chunkmodel.Chunk {
	out := make(map[string]*chunkmodel.Chunk, len(ids))
	if store == nil || len(ids) == 0 {
		return out
	}
	chunks, err := store.GetChunks(ctx, ids)
	if err != nil {
		return out
	}
	for _, c := range chunks {
		out[c.ID] = c
	}
	return out
}

func candidateFromChunk(id string, score float64, strategy chunkmodel.Strategy, chunk *chunkmodel.Chunk) Candidate {
	c := Candidate{
		SearchResult: chunkmodel.SearchResult{
			ChunkID:  id,
			Score:    score,
			Strategy: strategy,
		},
	}
	if chunk != nil {
		c.Content = chunk.Content
		c.SourceMeta = chunk.Meta
	}
	return c
}
