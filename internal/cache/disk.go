package cache

import (
	"log/slog"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// This file wires each typed tier to its T2 disk representation: the
// embedding tier uses the raw float32 binary format, query-result and
// document tiers use JSON envelopes (spec.md §6 "Cache file formats").

func (c *Cache) loadEmbeddingFromDisk(key string) (*chunkmodel.CacheEntry[chunkmodel.Embedding], bool) {
	data, ok := readDisk(c.cfg.Dir, diskClassEmbeddings, key)
	if !ok {
		return nil, false
	}
	modelID := ""
	if c.cfg.Embedder != nil {
		modelID = c.cfg.Embedder.ModelName()
	}
	vec := decodeEmbedding(data)
	now := time.Now()
	return &chunkmodel.CacheEntry[chunkmodel.Embedding]{
		Key:          key,
		Value:        chunkmodel.Embedding{Vector: vec, ModelID: modelID},
		CreatedAt:    now,
		LastAccessed: now,
	}, true
}

func (c *Cache) flushEmbedding(key string) bool {
	entry, ok := c.embeddings.get(key)
	if !ok {
		return true // evicted from T1 before flush; nothing to do
	}
	if err := writeDisk(c.cfg.Dir, diskClassEmbeddings, key, encodeEmbedding(entry.Value.Vector)); err != nil {
		slog.Warn("cache: embedding disk write failed", "key", key, "error", err)
		return false
	}
	c.manifestMu.Lock()
	c.man.recordRecent(key)
	c.manifestMu.Unlock()
	return true
}

func (c *Cache) loadQueryFromDisk(key string) (*chunkmodel.CacheEntry[[]chunkmodel.SearchResult], bool) {
	data, ok := readDisk(c.cfg.Dir, diskClassQueries, key)
	if !ok {
		return nil, false
	}
	doc, err := decodeJSON[[]chunkmodel.SearchResult](data)
	if err != nil {
		slog.Warn("cache: query disk decode failed", "key", key, "error", err)
		return nil, false
	}
	entry := &chunkmodel.CacheEntry[[]chunkmodel.SearchResult]{
		Key:          key,
		Value:        doc.Value,
		CreatedAt:    time.Unix(doc.CreatedAt, 0),
		LastAccessed: time.Now(),
		HitCount:     doc.HitCount,
	}
	if len(doc.Embedding) > 0 {
		entry.Embedding = &chunkmodel.Embedding{Vector: doc.Embedding, ModelID: doc.ModelID}
	}
	return entry, true
}

func (c *Cache) flushQuery(key string) bool {
	entry, ok := c.queries.get(key)
	if !ok {
		return true
	}
	data, err := encodeJSON(entry)
	if err != nil {
		slog.Warn("cache: query encode failed", "key", key, "error", err)
		return false
	}
	if err := writeDisk(c.cfg.Dir, diskClassQueries, key, data); err != nil {
		slog.Warn("cache: query disk write failed", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) loadDocumentFromDisk(key string) (*chunkmodel.CacheEntry[chunkmodel.Chunk], bool) {
	data, ok := readDisk(c.cfg.Dir, diskClassDocuments, key)
	if !ok {
		return nil, false
	}
	doc, err := decodeJSON[chunkmodel.Chunk](data)
	if err != nil {
		slog.Warn("cache: document disk decode failed", "key", key, "error", err)
		return nil, false
	}
	return &chunkmodel.CacheEntry[chunkmodel.Chunk]{
		Key:          key,
		Value:        doc.Value,
		CreatedAt:    time.Unix(doc.CreatedAt, 0),
		LastAccessed: time.Now(),
		HitCount:     doc.HitCount,
	}, true
}

func (c *Cache) flushDocument(key string) bool {
	entry, ok := c.documents.get(key)
	if !ok {
		return true
	}
	data, err := encodeJSON(entry)
	if err != nil {
		slog.Warn("cache: document encode failed", "key", key, "error", err)
		return false
	}
	if err := writeDisk(c.cfg.Dir, diskClassDocuments, key, data); err != nil {
		slog.Warn("cache: document disk write failed", "key", key, "error", err)
		return false
	}
	return true
}

// warmStart promotes the manifest's recent_embeddings into T1 so the
// cache isn't cold immediately after process start (spec.md §4.4
// "manifest ... to seed warm-start").
func (c *Cache) warmStart() {
	if c.man == nil {
		return
	}
	for _, rec := range c.man.RecentEmbeddings {
		if entry, ok := c.loadEmbeddingFromDisk(rec.Key); ok {
			c.embeddings.put(entry)
		}
	}
}
