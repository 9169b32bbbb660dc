package chunkmodel

import "time"

// CachePrefix namespaces a cache key by the kind of value it stores, so a
// single keyspace can hold embeddings, query results, documents, and
// contextual-enhancement results without collision and so tier selection
// can dispatch on prefix alone.
type CachePrefix string

const (
	CachePrefixEmbedding  CachePrefix = "embedding:"
	CachePrefixQuery      CachePrefix = "query:"
	CachePrefixDocument   CachePrefix = "doc:"
	CachePrefixContextual CachePrefix = "contextual:"
)

// CacheEntry is the envelope every cache tier stores, regardless of the
// payload's concrete type (the generic tier parameterizes Value).
type CacheEntry[V any] struct {
	Key          string
	Value        V
	CreatedAt    time.Time
	HitCount     int64
	LastAccessed time.Time

	// Embedding, when present, lets the near-hit matcher compare this
	// entry's query embedding against a live query without recomputing
	// or storing a duplicate vector.
	Embedding *Embedding
}
