package facade

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlocal/recall/internal/cache"
	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/pipeline"
	"github.com/cortexlocal/recall/internal/rerrors"
	"github.com/cortexlocal/recall/internal/telemetry"
	"github.com/cortexlocal/recall/pkg/searcher"
)

// SearchOptions is search()'s options bundle (spec.md §4.8).
type SearchOptions struct {
	// Profile selects fast/balanced/accurate/research; empty defaults to
	// balanced (pipeline.ProfileByName's own default).
	Profile string
	Limit   int
	Context chunkmodel.Metadata

	// UseCache routes the call through C4's query tier, including near-hit
	// matching; false always runs the pipeline fresh.
	UseCache bool

	// Rerank false strips cross_encoder_rerank from the resolved profile's
	// stage list for this call only, without mutating the cached profile
	// Pipeline other callers share.
	Rerank bool

	MinConfidence float64
	MaxLatency    time.Duration
}

// Search runs the full C7 pipeline for one query under the given
// profile, optionally wrapped in C4's cache (spec.md §4.8 `search`).
func (f *Facade) Search(ctx context.Context, query string, opts SearchOptions) ([]chunkmodel.SearchResult, error) {
	if err := validateSearchInput(query, opts.Limit); err != nil {
		return nil, err
	}

	start := time.Now()
	p := f.resolvePipeline(opts)

	req := pipeline.Request{
		Query:         query,
		Limit:         opts.Limit,
		Context:       opts.Context,
		UseCache:      opts.UseCache,
		Rerank:        opts.Rerank,
		MinConfidence: opts.MinConfidence,
		MaxLatency:    opts.MaxLatency,
	}

	compute := func(ctx context.Context) ([]chunkmodel.SearchResult, error) {
		results, _ := p.Run(ctx, req)
		return results, nil
	}

	var results []chunkmodel.SearchResult
	var cacheHit bool
	var err error
	if opts.UseCache && f.queryCache != nil {
		results, cacheHit, err = f.queryCache.GetOrComputeQuery(ctx, query, compute, cache.Options{AllowSemantic: true, Persist: true})
	} else {
		results, err = compute(ctx)
	}
	if err != nil {
		return nil, err
	}

	f.recordSearch(query, results, time.Since(start))
	f.touchActivity()
	f.publish(ProgressEvent{
		Kind:        ProgressEventComplete,
		DurationMS:  time.Since(start).Milliseconds(),
		ResultCount: len(results),
		CacheHit:    cacheHit,
	})
	return results, nil
}

// resolvePipeline returns the cached profile Pipeline, or (when the
// caller asked for no reranking) a one-off Pipeline built from a stage-
// filtered copy of that profile. The cached map entries are never
// mutated so other callers keep the full profile.
func (f *Facade) resolvePipeline(opts SearchOptions) *pipeline.Pipeline {
	profile := pipeline.ProfileByName(opts.Profile)
	if opts.Rerank {
		if p, ok := f.pipelines[profile.Name]; ok {
			return p
		}
		return pipeline.New(profile, f.pipelineDeps())
	}
	return pipeline.New(withoutStage(profile, "cross_encoder_rerank"), f.pipelineDeps())
}

// withoutStage returns a copy of profile with the named stage disabled.
func withoutStage(profile chunkmodel.PipelineProfile, name string) chunkmodel.PipelineProfile {
	out := profile
	out.Stages = make([]chunkmodel.StageConfig, len(profile.Stages))
	copy(out.Stages, profile.Stages)
	for i, s := range out.Stages {
		if s.Name == name {
			out.Stages[i].Enabled = false
		}
	}
	return out
}

// touchActivity marks the façade as non-idle, resetting maybeCompact's
// idle clock. Compaction only runs once a project has gone quiet, so a
// live search session never competes with a vector index rebuild.
func (f *Facade) touchActivity() {
	f.compactMu.Lock()
	f.lastSearchAt = time.Now()
	f.compactMu.Unlock()
}

func (f *Facade) recordSearch(query string, results []chunkmodel.SearchResult, latency time.Duration) {
	if f.metrics == nil {
		return
	}
	id := uuid.NewString()
	f.metrics.Record(telemetry.QueryEvent{
		ID:          id,
		Query:       query,
		QueryType:   telemetry.QueryTypeMixed,
		ResultCount: len(results),
		Latency:     latency,
		Timestamp:   time.Now(),
	})
	slog.Debug("facade: search recorded", slog.String("event_id", id), slog.Int("result_count", len(results)), slog.Duration("latency", latency))
}

// SimpleSearch bypasses the pipeline entirely and returns C3's raw
// keyword hits, resolved to chunks directly from the chunk store (spec.md
// §4.8 "bypasses the pipeline; directly invokes C2/C3"). A zero limit
// defaults to 10.
func (f *Facade) SimpleSearch(ctx context.Context, query string, limit int) ([]chunkmodel.SearchResult, error) {
	if err := validateSearchInput(query, limit); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	hits, err := f.keywordIndex.Search(ctx, query, limit)
	if err != nil {
		return nil, rerrors.TransientBackend("facade:simple_search", "keyword search failed", err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
	}
	chunks, err := f.chunkStore.GetChunks(ctx, ids)
	if err != nil {
		return nil, rerrors.TransientBackend("facade:simple_search", "chunk lookup failed", err)
	}
	byID := make(map[string]*chunkmodel.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]chunkmodel.SearchResult, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.DocID]
		if !ok {
			continue
		}
		out = append(out, chunkmodel.SearchResult{
			ChunkID:    c.ID,
			Content:    c.Content,
			Score:      clamp01(h.Score),
			SourceMeta: c.Meta,
			Strategy:   chunkmodel.StrategyKeyword,
		})
	}
	return out, nil
}

// HybridSearch merges C2 and C3 results with Reciprocal Rank Fusion
// rather than the pipeline's own weighted-blend hybrid_merge stage, and
// skips every rerank/enrichment stage (spec.md §4.8 "C2 + C3 merge
// without reranking"). RRF fusion runs both searches in parallel and
// degrades gracefully to whichever one succeeds if the other errors.
func (f *Facade) HybridSearch(ctx context.Context, query string, limit int) ([]chunkmodel.SearchResult, error) {
	if err := validateSearchInput(query, limit); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	bm25, err := searcher.NewBM25Searcher(searcher.WithBM25Store(f.keywordIndex))
	if err != nil {
		return nil, rerrors.Wrap(rerrors.KindInvalidInput, "facade:hybrid_search", err)
	}
	vec, err := searcher.NewVectorSearcher(
		searcher.WithSearchEmbedder(f.embedder),
		searcher.WithSearchVectorStore(f.vectorIndex),
	)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.KindInvalidInput, "facade:hybrid_search", err)
	}
	fusion, err := searcher.NewFusionSearcher(
		searcher.WithBM25Searcher(bm25),
		searcher.WithVectorSearcher(vec),
	)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.KindInvalidInput, "facade:hybrid_search", err)
	}

	hits, err := fusion.Search(ctx, query, limit)
	if err != nil {
		return nil, rerrors.TransientBackend("facade:hybrid_search", "fusion search failed", err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := f.chunkStore.GetChunks(ctx, ids)
	if err != nil {
		return nil, rerrors.TransientBackend("facade:hybrid_search", "chunk lookup failed", err)
	}
	byID := make(map[string]*chunkmodel.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]chunkmodel.SearchResult, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, chunkmodel.SearchResult{
			ChunkID:    c.ID,
			Content:    c.Content,
			Score:      clamp01(h.Score),
			SourceMeta: c.Meta,
			Strategy:   chunkmodel.StrategyHybrid,
		})
	}
	return out, nil
}

func validateSearchInput(query string, limit int) error {
	if query == "" {
		return rerrors.InvalidInput("facade:search", "query must not be empty")
	}
	if limit < 0 {
		return rerrors.InvalidInput("facade:search", "limit must not be negative")
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
