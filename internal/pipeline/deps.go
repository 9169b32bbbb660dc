package pipeline

import (
	"context"

	"github.com/cortexlocal/recall/internal/cache"
	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/contextual"
	"github.com/cortexlocal/recall/internal/rerank"
	"github.com/cortexlocal/recall/internal/store"
)

// KeywordSearcher is the slice of store.BM25Index (C3) a stage needs.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
}

// VectorSearcher is the slice of store.VectorStore (C2) a stage needs.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// Embedder is the slice of embed.Embedder (C1) a stage needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// QueryCache is the slice of cache.Cache (C4) the pipeline's caller
// (the façade) uses around a whole Run call; stages themselves don't
// touch the cache directly, only the façade's search() wrapper does —
// kept here for the façade's benefit since it composes Deps.
type QueryCache interface {
	GetOrComputeQuery(ctx context.Context, queryText string, compute func(context.Context) ([]chunkmodel.SearchResult, error), opts cache.Options) ([]chunkmodel.SearchResult, bool, error)
}

// Reranker is the C5 slice a stage needs.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]rerank.RerankResult, error)
	Available(ctx context.Context) bool
}

// Enhancer is the C6 slice a stage needs.
type Enhancer interface {
	Enhance(ctx context.Context, text string, strategy contextual.Strategy, docCtx contextual.DocumentContext) (*contextual.EnhancementResult, error)
}

// ChunkStore is the slice of store.ChunkStore a stage needs to fetch
// metadata and adjacent chunks.
type ChunkStore interface {
	GetChunk(ctx context.Context, id string) (*chunkmodel.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*chunkmodel.Chunk, error)
	GetChunksBySource(ctx context.Context, sourceID string) ([]*chunkmodel.Chunk, error)
}
