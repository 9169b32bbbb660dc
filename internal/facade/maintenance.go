package facade

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexlocal/recall/internal/async"
	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/embed"
	"github.com/cortexlocal/recall/internal/rerrors"
	"github.com/cortexlocal/recall/internal/store"
)

// ProgressCallback reports {stage, progress_fraction} as a batch
// operation advances (spec.md §4.8 `precompute_embeddings(progress_cb)`).
// Equivalent information also goes out on Facade.Progress; callers that
// only want this one operation's progress can pass a callback instead of
// subscribing to the channel.
type ProgressCallback func(stage string, fraction float64)

const precomputeBatchSize = embed.DefaultBatchSize

// PrecomputeEmbeddings batch-embeds every chunk lacking an embedding and
// stores each vector on its chunk and in the vector index; C4's embedding
// tier is not written. It yields progress periodically so a
// large corpus never blocks interactive queries for long (spec.md §5
// backpressure).
func (f *Facade) PrecomputeEmbeddings(ctx context.Context, progress ProgressCallback) error {
	return f.precomputeEmbeddings(ctx, progress, nil)
}

// PrecomputeEmbeddingsAsync starts PrecomputeEmbeddings on a background
// goroutine behind a data-dir lock file, so a caller driving a large
// backfill doesn't hold an interactive query's caller goroutine hostage
// (spec.md §5: a bounded background job, not a blocking batch call, is
// what lets interactive search preempt precompute). The returned indexer
// exposes Progress() for polling and Wait() to block for completion; a
// second call while one is already running for this façade returns the
// indexer already in flight instead of starting a duplicate pass.
func (f *Facade) PrecomputeEmbeddingsAsync(ctx context.Context) *async.BackgroundIndexer {
	f.precomputeMu.Lock()
	defer f.precomputeMu.Unlock()

	if f.precomputeIndexer != nil && f.precomputeIndexer.IsRunning() {
		return f.precomputeIndexer
	}

	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: f.dataDir})
	indexer.IndexFunc = func(ctx context.Context, p *async.IndexProgress) error {
		return f.precomputeEmbeddings(ctx, nil, p)
	}
	f.precomputeIndexer = indexer
	indexer.Start(ctx)
	return indexer
}

func (f *Facade) precomputeEmbeddings(ctx context.Context, progress ProgressCallback, ip *async.IndexProgress) error {
	chunks, err := f.chunkStore.AllChunks(ctx)
	if err != nil {
		return rerrors.Wrap(rerrors.KindTransientBackend, "facade:precompute_embeddings", err)
	}

	var pending []*chunkmodel.Chunk
	for _, c := range chunks {
		if c.Embedding == nil {
			pending = append(pending, c)
		}
	}
	if ip != nil {
		ip.SetStage(async.StageEmbedding, len(pending))
	}
	if len(pending) == 0 {
		report(progress, "precompute_embeddings", 1, f)
		if ip != nil {
			ip.SetChunksTotal(0)
		}
		return nil
	}
	if ip != nil {
		ip.SetChunksTotal(len(pending))
	}

	done := 0
	for start := 0; start < len(pending); start += precomputeBatchSize {
		if err := ctx.Err(); err != nil {
			return rerrors.Wrap(rerrors.KindDeadlineExceeded, "facade:precompute_embeddings", err)
		}

		end := start + precomputeBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := f.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return rerrors.TransientBackend("facade:precompute_embeddings", "batch embedding failed", err)
		}

		ids := make([]string, len(batch))
		for i, c := range batch {
			c.Embedding = &chunkmodel.Embedding{Vector: vecs[i], ModelID: f.embedder.ModelName()}
			ids[i] = c.ID
		}
		if err := f.chunkStore.SaveChunks(ctx, batch); err != nil {
			return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:precompute_embeddings", err)
		}
		if err := f.vectorIndex.Add(ctx, ids, vecs); err != nil {
			return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:precompute_embeddings", err)
		}

		done += len(batch)
		report(progress, "precompute_embeddings", float64(done)/float64(len(pending)), f)
		if ip != nil {
			ip.UpdateFiles(done)
			ip.UpdateChunks(done)
		}
	}
	return nil
}

func report(cb ProgressCallback, stage string, fraction float64, f *Facade) {
	if cb != nil {
		cb(stage, fraction)
	}
	f.publish(ProgressEvent{Kind: ProgressEventStage, Stage: stage, ProgressFraction: fraction})
}

// warmupQueries are short, generic probes run to populate caches and
// force the embedder/reranker to load their model weights before the
// first real query pays that cost (spec.md §4.8 `warmup()`).
var warmupQueries = []string{"overview", "how to", "error", "configuration"}

// Warmup runs a few canned queries against the balanced profile so
// caches and model weights are warm before the first real query arrives.
func (f *Facade) Warmup(ctx context.Context) error {
	for _, q := range warmupQueries {
		if _, err := f.Search(ctx, q, SearchOptions{Profile: "balanced", Limit: 5, UseCache: true, Rerank: true}); err != nil {
			return err
		}
	}
	return nil
}

// ClearCaches empties C4. Idempotent: two successive calls leave cache
// stats at zero (spec.md §8).
func (f *Facade) ClearCaches() {
	if f.queryCache != nil {
		f.queryCache.Clear()
	}
}

// RebuildIndices rebuilds the vector and keyword indices from the chunk
// store, the source of truth on IndexCorruption (spec.md §7, §8
// "rebuild_indices() twice in a row yields byte-equivalent serialized
// indices"). Chunks without an embedding are skipped from the vector
// index and left for the next PrecomputeEmbeddings pass.
func (f *Facade) RebuildIndices(ctx context.Context) error {
	chunks, err := f.chunkStore.AllChunks(ctx)
	if err != nil {
		return rerrors.Wrap(rerrors.KindTransientBackend, "facade:rebuild_indices", err)
	}

	if ids, err := f.keywordIndex.AllIDs(); err == nil && len(ids) > 0 {
		if err := f.keywordIndex.Delete(ctx, ids); err != nil {
			return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:rebuild_indices", err)
		}
	}
	if ids := f.vectorIndex.AllIDs(); len(ids) > 0 {
		if err := f.vectorIndex.Delete(ctx, ids); err != nil {
			return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:rebuild_indices", err)
		}
	}

	docs := make([]*store.Document, 0, len(chunks))
	var vecIDs []string
	var vecs [][]float32
	for _, c := range chunks {
		docs = append(docs, &store.Document{ID: c.ID, Content: c.Content})
		if c.Embedding != nil {
			vecIDs = append(vecIDs, c.ID)
			vecs = append(vecs, c.Embedding.Vector)
		}
	}

	if len(docs) > 0 {
		if err := f.keywordIndex.Index(ctx, docs); err != nil {
			return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:rebuild_indices", err)
		}
	}
	if len(vecIDs) > 0 {
		if err := f.vectorIndex.Add(ctx, vecIDs, vecs); err != nil {
			return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:rebuild_indices", err)
		}
	}
	report(nil, "rebuild_indices", 1, f)
	return nil
}

// maybeCompact reclaims lazily deleted HNSW nodes once a project has
// gone quiet. RemoveSource's vector deletes are lazy (the node survives
// in the graph, orphaned) so repeated removal cycles on a long-lived
// project otherwise grow the on-disk index without bound. It is a
// no-op unless compaction is enabled, the vector index is the HNSW
// backend, the project has been idle for IdleTimeout, the orphan ratio
// and count both clear their thresholds, and Cooldown has elapsed
// since the last compaction.
func (f *Facade) maybeCompact(ctx context.Context) {
	cfg := f.cfg.Compaction
	if !cfg.Enabled {
		return
	}
	hnswStore, ok := f.vectorIndex.(*store.HNSWStore)
	if !ok {
		return
	}

	idleTimeout, err := time.ParseDuration(cfg.IdleTimeout)
	if err != nil {
		idleTimeout = 30 * time.Second
	}
	cooldown, err := time.ParseDuration(cfg.Cooldown)
	if err != nil {
		cooldown = time.Hour
	}

	f.compactMu.Lock()
	now := time.Now()
	idle := f.lastSearchAt.IsZero() || now.Sub(f.lastSearchAt) >= idleTimeout
	cooled := now.Sub(f.lastCompactAt) >= cooldown
	f.compactMu.Unlock()
	if !idle || !cooled {
		return
	}

	stats := hnswStore.Stats()
	if stats.Orphans < cfg.MinOrphanCount {
		return
	}
	if stats.GraphNodes == 0 || float64(stats.Orphans)/float64(stats.GraphNodes) < cfg.OrphanThreshold {
		return
	}

	if err := f.RebuildIndices(ctx); err != nil {
		slog.Warn("facade: background compaction failed", slog.String("error", err.Error()))
		return
	}
	f.compactMu.Lock()
	f.lastCompactAt = now
	f.compactMu.Unlock()
	slog.Debug("facade: background compaction ran",
		slog.Int("orphans_reclaimed", stats.Orphans),
		slog.Int("graph_nodes", stats.GraphNodes))
}

// Statistics merges the cache, telemetry, and index snapshots into a
// single read model for get_statistics() (spec.md §4.8).
type Statistics struct {
	Cache          cacheStatsView
	Query          *telemetryQuerySnapshot
	KeywordIndex   *store.IndexStats
	VectorCount    int
	RerankerUp     bool
	EnhancerUp     bool
}

type cacheStatsView struct {
	MemoryHits   int64
	MemoryMisses int64
	DiskHits     int64
	DiskMisses   int64
	SemanticHits int64
	TotalQueries int64
}

type telemetryQuerySnapshot struct {
	TotalQueries    int64
	ZeroResultCount int64
	ExactRepeatRate float64
}

// GetStatistics reports a point-in-time view across every component the
// façade owns.
func (f *Facade) GetStatistics() Statistics {
	stats := Statistics{
		RerankerUp: f.rerankerAvailable,
		EnhancerUp: f.enhancerAvailable,
	}
	if f.queryCache != nil {
		s := f.queryCache.Stats()
		stats.Cache = cacheStatsView{
			MemoryHits: s.MemoryHits, MemoryMisses: s.MemoryMisses,
			DiskHits: s.DiskHits, DiskMisses: s.DiskMisses,
			SemanticHits: s.SemanticHits, TotalQueries: s.TotalQueries,
		}
	}
	if f.metrics != nil {
		snap := f.metrics.Snapshot()
		stats.Query = &telemetryQuerySnapshot{
			TotalQueries:    snap.TotalQueries,
			ZeroResultCount: snap.ZeroResultCount,
			ExactRepeatRate: snap.ExactRepeatRate,
		}
	}
	if f.keywordIndex != nil {
		stats.KeywordIndex = f.keywordIndex.Stats()
	}
	if f.vectorIndex != nil {
		stats.VectorCount = f.vectorIndex.Count()
	}
	return stats
}
