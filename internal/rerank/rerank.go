// Package rerank implements the Cross-Encoder Reranker (C5): a pairwise
// (query, passage) relevance scorer that reorders an already-retrieved
// candidate list. Grounded on the teacher's search/reranker.go interface
// shape and search/mlx_reranker.go's remote-model lazy-load idiom,
// generalized from code-search-specific MLX transport to a
// spec.md §4.5 batching/timeout/fallback contract.
package rerank

import "context"

// RerankResult is a single scored-and-reordered candidate.
type RerankResult struct {
	// Index is the candidate's position in the input slice.
	Index int
	// Score is the reranker's relevance score in [0,1].
	Score float64
	// Document is the passage text that was scored.
	Document string
}

// Reranker scores and reorders a candidate list against a query.
// Implementations must never fail the caller: on model unavailability
// or timeout CrossEncoderReranker reorders by cosine similarity when a
// Fallback is configured, and otherwise keeps the input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker returns documents in their original order with
// decreasing synthetic scores, used when reranking is disabled.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01, Document: doc}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (NoOpReranker) Available(context.Context) bool { return true }
func (NoOpReranker) Close() error                    { return nil }

var _ Reranker = NoOpReranker{}
