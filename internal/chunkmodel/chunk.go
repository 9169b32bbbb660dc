// Package chunkmodel holds the data types shared by every retrieval
// component: the chunk store, both indices, the cache, the reranker, the
// contextual enhancer, and the pipeline all speak this vocabulary instead
// of each defining their own overlapping structs.
package chunkmodel

import "time"

// ContentType classifies a chunk's source text for heuristic scoring
// (has-code boosts, recency weighting, filters).
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeWeb      ContentType = "web"
)

// Metadata carries the optional, descriptive fields attached to a chunk.
// Kept as a concrete struct rather than a map so callers get compile-time
// field names instead of string keys scattered across the codebase.
type Metadata struct {
	Title     string
	URL       string
	Language  string
	CreatedAt time.Time
	HasCode   bool
}

// Chunk is a stable, retrievable unit of ingested content. Chunks are
// append-only once indexed; deletion cascades from removing the source.
type Chunk struct {
	// ID is a stable identifier, typically sha256(SourceID + ChunkIndex).
	ID string

	// Content is the full text of the chunk, as embedded and indexed.
	Content string

	// SourceID identifies the parent document/page this chunk came from.
	SourceID string

	// ChunkIndex is this chunk's position within its source.
	ChunkIndex int

	// ContentHash is sha256(Content), hex-encoded. Two chunks with
	// identical content share a hash; used for cache-key derivation and
	// dedup checks at ingestion time.
	ContentHash string

	ContentType ContentType
	Meta        Metadata

	// Embedding is optional: present once C1 has produced a vector for
	// this chunk, absent for chunks awaiting a precompute pass.
	Embedding *Embedding
}

// Embedding is a fixed-dimensional dense vector tagged with the
// producing model's identity, so vectors from incompatible models are
// never mixed in similarity math.
type Embedding struct {
	Vector  []float32
	ModelID string
}

// Dimensions returns the vector length, or 0 for a nil/empty embedding.
func (e *Embedding) Dimensions() int {
	if e == nil {
		return 0
	}
	return len(e.Vector)
}
