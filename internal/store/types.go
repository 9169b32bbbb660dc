// Package store provides the durable substrate for the retrieval
// subsystem: an approximate-nearest-neighbor vector index (C2), an
// inverted keyword index (C3), and a SQLite-backed chunk/state store that
// both indices treat as their source of truth for rebuilds.
package store

import (
	"context"
	"fmt"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// State keys for the chunk store's key-value section.
const (
	// StateKeyIndexDimension stores the embedding dimension the vector
	// index was built with, so a model change can be detected before it
	// silently mixes incompatible vectors.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model-id the index was
	// built with.
	StateKeyIndexModel = "index_embedding_model"
)

// ChunkStore persists chunks and small key-value state. It is the
// source of truth an index is rebuilt from on IndexCorruption (§7).
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []*chunkmodel.Chunk) error
	GetChunk(ctx context.Context, id string) (*chunkmodel.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*chunkmodel.Chunk, error)
	// GetChunksBySource returns a source's chunks ordered by ChunkIndex,
	// used by context enrichment to fetch previous/next chunks.
	GetChunksBySource(ctx context.Context, sourceID string) ([]*chunkmodel.Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksBySource(ctx context.Context, sourceID string) error
	AllChunks(ctx context.Context) ([]*chunkmodel.Chunk, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// Document is the unit a keyword index (C3) stores: an opaque id and
// its searchable text. Chunk metadata lives in the ChunkStore; the
// keyword index only ever sees id+content.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a single keyword-search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a keyword index's size.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index is the C3 Keyword Index: an inverted full-text index with
// BM25-style ranked lookup. Two backends implement it (bm25.go's bleve
// index, sqlite_bm25.go's FTS5 index); filtering by SourceType/Language/
// DateRange is applied by the pipeline stage against chunk metadata
// fetched from the ChunkStore, not pushed into the index itself — BM25Index
// never sees a Chunk, only id+content, so it has nothing to filter on.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats

	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config holds keyword-index settings. Neither backend reads K1, B
// or MinTokenLength; StopWords is applied by SQLiteBM25Index only.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns the standard BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords is the light English stop-word list filtered out
// during tokenization. No stemmer runs on top of this — code identifiers
// split by TokenizeCode ("getUserById" -> "get"/"user"/"by"/"id") don't
// benefit from English inflection rules the way prose would.
var DefaultStopWords = []string{
	"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
	"and", "or", "but", "if", "then", "of", "to", "in", "on", "for",
	"with", "as", "by", "at", "this", "that", "it", "its",
}

// DefaultCodeStopWords contains programming keywords to filter out.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStoreConfig configures the C2 vector index. HNSWStore does not
// read Quantization or EfConstruction.
type VectorStoreConfig struct {
	Dimensions     int
	Quantization   string
	Metric         string
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible HNSW defaults for the given
// embedding dimensionality.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f32",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore is the C2 Vector Index: approximate nearest-neighbor
// search over stored embeddings, keyed by chunk id.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch is returned by VectorStore.Add/Search when a
// vector's length doesn't match the index's established dimensionality —
// never by the fallback embedder, which is fixed-dimension by
// construction (spec.md §9 Open Question (a)).
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the vector index)", e.Expected, e.Got)
}
