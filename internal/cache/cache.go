package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// NearHitThreshold is the cosine similarity a cached query's embedding
// must meet or exceed for its result list to be served to a different,
// paraphrased query (spec.md §4.4, §9: hard-coded but flagged as a
// tunable requiring measured per-model calibration).
const NearHitThreshold = 0.95

// Default tier sizes/TTLs, spec.md §4.4.
var (
	DefaultEmbeddingLimits = TierLimits{MaxEntries: 10_000, MaxBytes: 100 << 20, TTL: 24 * time.Hour}
	DefaultQueryLimits     = TierLimits{MaxEntries: 1_000, MaxBytes: 50 << 20, TTL: 5 * time.Minute}
	DefaultDocumentLimits  = TierLimits{MaxEntries: 5_000, MaxBytes: 200 << 20, TTL: 30 * time.Minute}
)

// DefaultFlushInterval is how often the background job flushes dirty
// entries to T2 (spec.md §4.4 "every 5 minutes").
const DefaultFlushInterval = 5 * time.Minute

// Embedder is the minimal capability the cache needs from an embedding
// provider to make a query's own text cacheable under an `embedding:`
// key before near-hit matching. internal/embed.Embedder satisfies this
// structurally; the cache package never imports internal/embed, keeping
// the dependency edge one-directional (REDESIGN FLAGS: borrowed views,
// not owning references, across the façade/cache/embed cycle).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Options parameterizes one GetOrCompute* call (spec.md §4.4 `opts`).
type Options struct {
	// TTL is accepted but not applied per entry: every entry expires on
	// its tier's TierLimits.TTL, whatever this field holds.
	TTL time.Duration
	// AllowSemantic enables near-hit matching for query-class lookups.
	// GetOrComputeQuery uses it as passed, so the zero value disables
	// near-hit matching; it has no effect on embedding/document lookups
	// (spec.md "never for embedding: or doc: keys").
	AllowSemantic bool
	// Persist writes this entry to T2 in addition to T1.
	Persist bool
	// CompressionLevel is accepted for API compatibility with spec.md
	// §4.4 but JSON/raw-float payloads here are small enough that no
	// compression is applied; 0 is the only value currently honored.
	CompressionLevel int
}

// Config configures a Cache instance.
type Config struct {
	// Dir is the cache root (spec.md §6: per-user data dir's `cache/`).
	// Empty disables T2 persistence entirely.
	Dir string

	EmbeddingLimits TierLimits
	QueryLimits     TierLimits
	DocumentLimits  TierLimits
	FlushInterval   time.Duration

	Embedder Embedder
}

func (c *Config) setDefaults() {
	if c.EmbeddingLimits == (TierLimits{}) {
		c.EmbeddingLimits = DefaultEmbeddingLimits
	}
	if c.QueryLimits == (TierLimits{}) {
		c.QueryLimits = DefaultQueryLimits
	}
	if c.DocumentLimits == (TierLimits{}) {
		c.DocumentLimits = DefaultDocumentLimits
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
}

// Cache is the C4 Multi-Tier Cache: three typed T1 LRUs, optional T2
// disk persistence, and T3 semantic near-hit matching for query-class
// lookups (spec.md §4.4).
type Cache struct {
	cfg Config

	embeddings *tier[chunkmodel.Embedding]
	queries    *tier[[]chunkmodel.SearchResult]
	documents  *tier[chunkmodel.Chunk]

	sf    singleflight.Group
	stats counters

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	manifestMu sync.Mutex
	man        *manifest

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Cache and, if cfg.Dir is set, seeds T1 from the
// on-disk manifest's warm-start list and starts the background flush
// loop (spec.md §4.4 persistence).
func New(cfg Config) *Cache {
	cfg.setDefaults()
	c := &Cache{
		cfg:        cfg,
		embeddings: newTier[chunkmodel.Embedding](cfg.EmbeddingLimits, sizeOfEmbedding),
		queries:    newTier[[]chunkmodel.SearchResult](cfg.QueryLimits, sizeOfResults),
		documents:  newTier[chunkmodel.Chunk](cfg.DocumentLimits, sizeOfChunk),
		dirty:      make(map[string]struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if cfg.Dir != "" {
		c.man = loadManifest(cfg.Dir)
		c.warmStart()
		go c.flushLoop()
	} else {
		c.man = &manifest{Version: 1, Counts: map[string]int{}}
		close(c.doneCh)
	}
	return c
}

func sizeOfEmbedding(e chunkmodel.Embedding) int64 { return int64(len(e.Vector)*4 + len(e.ModelID)) }
func sizeOfResults(rs []chunkmodel.SearchResult) int64 {
	var n int64
	for _, r := range rs {
		n += int64(len(r.Content) + len(r.Explanation) + 64)
	}
	return n
}
func sizeOfChunk(c chunkmodel.Chunk) int64 { return int64(len(c.Content) + 96) }

// prefixFor builds the full cache key by prepending its CachePrefix.
func prefixFor(key string, prefix chunkmodel.CachePrefix) string {
	return string(prefix) + key
}

// HashText derives a deterministic cache-key suffix from arbitrary
// text, used by callers building `embedding:`/`contextual:` keys.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ---- Embedding tier (`embedding:` keys) --------------------------------

// GetOrComputeEmbedding implements spec.md §4.4's lookup order for an
// embedding-class key: T1, then (if Persist) T2, then compute. Near-hit
// matching never applies to embedding keys.
func (c *Cache) GetOrComputeEmbedding(ctx context.Context, textKey string, compute func(ctx context.Context) (chunkmodel.Embedding, error), opts Options) (chunkmodel.Embedding, error) {
	key := prefixFor(textKey, chunkmodel.CachePrefixEmbedding)
	c.stats.totalQueries.Add(1)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if entry, ok := c.embeddings.get(key); ok {
			c.stats.memoryHits.Add(1)
			return entry.Value, nil
		}
		c.stats.memoryMisses.Add(1)

		if opts.Persist && c.cfg.Dir != "" {
			if entry, ok := c.loadEmbeddingFromDisk(key); ok {
				c.stats.diskHits.Add(1)
				c.embeddings.put(entry)
				return entry.Value, nil
			}
			c.stats.diskMisses.Add(1)
		}

		val, err := compute(ctx)
		if err != nil {
			return chunkmodel.Embedding{}, err
		}
		c.storeEmbedding(key, val, opts)
		return val, nil
	})
	if err != nil {
		return chunkmodel.Embedding{}, err
	}
	return v.(chunkmodel.Embedding), nil
}

func (c *Cache) storeEmbedding(key string, val chunkmodel.Embedding, opts Options) {
	now := time.Now()
	entry := &chunkmodel.CacheEntry[chunkmodel.Embedding]{
		Key: key, Value: val, CreatedAt: now, LastAccessed: now,
	}
	c.embeddings.put(entry)
	if opts.Persist {
		c.markDirty(key)
	}
}

// ---- Query-result tier (`query:` keys) ---------------------------------

// GetOrComputeQuery implements the full spec.md §4.4 lookup order,
// including T3 near-hit matching: T1 → (Persist) T2 → (AllowSemantic)
// near-hit scan → compute.
func (c *Cache) GetOrComputeQuery(ctx context.Context, queryText string, compute func(ctx context.Context) ([]chunkmodel.SearchResult, error), opts Options) ([]chunkmodel.SearchResult, bool, error) {
	key := prefixFor(HashText(queryText), chunkmodel.CachePrefixQuery)
	c.stats.totalQueries.Add(1)

	type outcome struct {
		results    []chunkmodel.SearchResult
		semantic   bool
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if entry, ok := c.queries.get(key); ok {
			c.stats.memoryHits.Add(1)
			return outcome{entry.Value, false}, nil
		}
		c.stats.memoryMisses.Add(1)

		if opts.Persist && c.cfg.Dir != "" {
			if entry, ok := c.loadQueryFromDisk(key); ok {
				c.stats.diskHits.Add(1)
				c.queries.put(entry)
				return outcome{entry.Value, false}, nil
			}
			c.stats.diskMisses.Add(1)
		}

		if opts.AllowSemantic && c.cfg.Embedder != nil {
			if results, ok := c.nearHitLookup(ctx, queryText); ok {
				c.stats.semanticHits.Add(1)
				return outcome{results, true}, nil
			}
		}

		results, err := compute(ctx)
		if err != nil {
			return outcome{}, err
		}
		c.storeQuery(ctx, key, queryText, results, opts)
		return outcome{results, false}, nil
	})
	if err != nil {
		return nil, false, err
	}
	o := v.(outcome)
	return o.results, o.semantic, nil
}

// nearHitLookup embeds queryText (itself cached under an `embedding:`
// key) and scans live query entries for the highest cosine similarity
// ≥ NearHitThreshold, per spec.md §4.4.
func (c *Cache) nearHitLookup(ctx context.Context, queryText string) ([]chunkmodel.SearchResult, bool) {
	emb, err := c.GetOrComputeEmbedding(ctx, HashText(queryText), func(ctx context.Context) (chunkmodel.Embedding, error) {
		vec, err := c.cfg.Embedder.Embed(ctx, queryText)
		if err != nil {
			return chunkmodel.Embedding{}, err
		}
		return chunkmodel.Embedding{Vector: vec, ModelID: c.cfg.Embedder.ModelName()}, nil
	}, Options{Persist: true})
	if err != nil {
		return nil, false
	}

	var best *chunkmodel.CacheEntry[[]chunkmodel.SearchResult]
	bestSim := 0.0
	for _, entry := range c.queries.entries() {
		if entry.Embedding == nil || entry.Embedding.ModelID != emb.ModelID {
			continue
		}
		sim := chunkmodel.CosineSimilarity(entry.Embedding.Vector, emb.Vector)
		if sim > bestSim {
			bestSim = sim
			best = entry
		}
	}
	if best == nil || bestSim < NearHitThreshold {
		return nil, false
	}
	return best.Value, true
}

func (c *Cache) storeQuery(ctx context.Context, key, queryText string, results []chunkmodel.SearchResult, opts Options) {
	now := time.Now()
	entry := &chunkmodel.CacheEntry[[]chunkmodel.SearchResult]{
		Key: key, Value: results, CreatedAt: now, LastAccessed: now,
	}
	if opts.AllowSemantic && c.cfg.Embedder != nil {
		if vec, err := c.cfg.Embedder.Embed(ctx, queryText); err == nil {
			entry.Embedding = &chunkmodel.Embedding{Vector: vec, ModelID: c.cfg.Embedder.ModelName()}
		}
	}
	c.queries.put(entry)
	if opts.Persist {
		c.markDirty(key)
	}
}

// ---- Document tier (`doc:` keys) ---------------------------------------

// GetOrComputeDocument implements T1 → (Persist) T2 → compute; document
// keys never use near-hit matching (spec.md §4.4 explicit carve-out).
func (c *Cache) GetOrComputeDocument(ctx context.Context, docKey string, compute func(ctx context.Context) (chunkmodel.Chunk, error), opts Options) (chunkmodel.Chunk, error) {
	return c.getOrComputeDocumentKeyed(ctx, prefixFor(docKey, chunkmodel.CachePrefixDocument), compute, opts)
}

func (c *Cache) getOrComputeDocumentKeyed(ctx context.Context, key string, compute func(ctx context.Context) (chunkmodel.Chunk, error), opts Options) (chunkmodel.Chunk, error) {
	c.stats.totalQueries.Add(1)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if entry, ok := c.documents.get(key); ok {
			c.stats.memoryHits.Add(1)
			return entry.Value, nil
		}
		c.stats.memoryMisses.Add(1)

		if opts.Persist && c.cfg.Dir != "" {
			if entry, ok := c.loadDocumentFromDisk(key); ok {
				c.stats.diskHits.Add(1)
				c.documents.put(entry)
				return entry.Value, nil
			}
			c.stats.diskMisses.Add(1)
		}

		val, err := compute(ctx)
		if err != nil {
			return chunkmodel.Chunk{}, err
		}
		now := time.Now()
		c.documents.put(&chunkmodel.CacheEntry[chunkmodel.Chunk]{Key: key, Value: val, CreatedAt: now, LastAccessed: now})
		if opts.Persist {
			c.markDirty(key)
		}
		return val, nil
	})
	if err != nil {
		return chunkmodel.Chunk{}, err
	}
	return v.(chunkmodel.Chunk), nil
}

// GetOrComputeContextual caches an enhancement result under a
// `contextual:` key in the document tier, persisted. The 24h TTL it
// passes in Options is not applied: these entries expire on the
// document tier's TTL (30 minutes by default). Contextual results ride in the document
// tier (not a fourth tier) since they're a document-class payload by
// shape: keyed, immutable once computed, never near-hit matched.
func (c *Cache) GetOrComputeContextual(ctx context.Context, textHash, contextHash string, compute func(ctx context.Context) (chunkmodel.Chunk, error)) (chunkmodel.Chunk, error) {
	key := string(chunkmodel.CachePrefixContextual) + textHash + ":" + contextHash
	return c.getOrComputeDocumentKeyed(ctx, key, compute, Options{TTL: 24 * time.Hour, Persist: true})
}

// ---- Lifecycle -----------------------------------------------------------

// markDirty flags a key for the next background flush.
func (c *Cache) markDirty(key string) {
	c.dirtyMu.Lock()
	c.dirty[key] = struct{}{}
	c.dirtyMu.Unlock()
}

func (c *Cache) flushLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

// flush writes every dirty entry to T2 and updates the manifest warm
// start list. A flush that falls behind simply leaves keys dirty for
// the next tick — writers never block on disk (spec.md §5 backpressure).
func (c *Cache) flush() {
	c.dirtyMu.Lock()
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	c.dirtyMu.Unlock()
	if len(keys) == 0 {
		return
	}

	flushed := make([]string, 0, len(keys))
	for _, key := range keys {
		if c.flushOne(key) {
			flushed = append(flushed, key)
		}
	}

	c.dirtyMu.Lock()
	for _, key := range flushed {
		delete(c.dirty, key)
	}
	c.dirtyMu.Unlock()

	c.manifestMu.Lock()
	c.man.Counts["embeddings"] = c.embeddings.len()
	c.man.Counts["queries"] = c.queries.len()
	c.man.Counts["documents"] = c.documents.len()
	if err := saveManifest(c.cfg.Dir, c.man); err != nil {
		slog.Warn("cache: manifest flush failed", "error", err)
	}
	c.manifestMu.Unlock()
}

func (c *Cache) flushOne(key string) bool {
	switch {
	case hasPrefix(key, chunkmodel.CachePrefixEmbedding):
		return c.flushEmbedding(key)
	case hasPrefix(key, chunkmodel.CachePrefixQuery):
		return c.flushQuery(key)
	default:
		return c.flushDocument(key)
	}
}

func hasPrefix(key string, p chunkmodel.CachePrefix) bool {
	return len(key) >= len(p) && key[:len(p)] == string(p)
}

// Close stops the flush loop (flushing once more first) and waits for
// it to exit, spec.md §4.4 "a background job flushes ... at shutdown".
func (c *Cache) Close() error {
	if c.cfg.Dir == "" {
		return nil
	}
	close(c.stopCh)
	<-c.doneCh
	return nil
}

// Stats returns a point-in-time snapshot of the cache's counters.
func (c *Cache) Stats() Stats { return c.stats.snapshot() }

// Clear empties every tier and resets counters (spec.md §8 "clear cache
// idempotence": two successive Clear calls leave stats at zero).
func (c *Cache) Clear() {
	c.embeddings.clear()
	c.queries.clear()
	c.documents.clear()
	c.stats.reset()
	c.dirtyMu.Lock()
	c.dirty = make(map[string]struct{})
	c.dirtyMu.Unlock()
}
