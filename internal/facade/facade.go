// Package facade implements the Search Façade (C8): the single entry
// point that owns every other component's lifecycle, wiring, and
// config. Grounded on the teacher's daemon/server.go lifecycle idiom
// (a mutex+bool shutdown latch guarding a long-lived loop) generalized
// to a one-shot sync.Once init latch plus the same shutdown-flag
// pattern, per spec.md §4.8's "façade owns the cycle, others hold
// borrowed views" — internal/pipeline, internal/cache, internal/embed,
// etc. never import this package.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cortexlocal/recall/internal/async"
	"github.com/cortexlocal/recall/internal/cache"
	"github.com/cortexlocal/recall/internal/config"
	"github.com/cortexlocal/recall/internal/contextual"
	"github.com/cortexlocal/recall/internal/embed"
	"github.com/cortexlocal/recall/internal/pipeline"
	"github.com/cortexlocal/recall/internal/rerank"
	"github.com/cortexlocal/recall/internal/store"
	"github.com/cortexlocal/recall/internal/telemetry"
)

// ProgressEventKind distinguishes the two payload shapes spec.md §6
// names for the progress sink.
type ProgressEventKind string

const (
	// ProgressEventStage reports {stage, progress_fraction} as a batch
	// operation (precompute, rebuild) advances.
	ProgressEventStage ProgressEventKind = "stage"
	// ProgressEventComplete reports {duration_ms, result_count, cache_hit}
	// once a search() call finishes.
	ProgressEventComplete ProgressEventKind = "complete"
)

// ProgressEvent is published on Facade.Progress, a typed channel
// (REDESIGN FLAGS "message channel, not callback") rather than a direct
// callback invocation, so the CLI and the MCP server each get their own
// read-only subscription.
type ProgressEvent struct {
	Kind ProgressEventKind

	// Stage/ProgressFraction are set for ProgressEventStage.
	Stage            string
	ProgressFraction float64

	// DurationMS/ResultCount/CacheHit are set for ProgressEventComplete.
	DurationMS  int64
	ResultCount int
	CacheHit    bool
}

// Deps lets tests (and alternative wiring) inject fakes in place of the
// real disk/network-backed components Initialize would otherwise build.
// Any field left nil is constructed normally by Initialize.
type Deps struct {
	ChunkStore   store.ChunkStore
	VectorIndex  store.VectorStore
	KeywordIndex store.BM25Index
	Embedder     embed.Embedder
	Cache        *cache.Cache
	Reranker     rerank.Reranker
	Enhancer     *contextual.Enhancer
}

// Facade is the C8 Search Façade: it owns every other component
// (REDESIGN FLAGS "cyclic service references ... façade owns all
// services; others take borrowed, non-owning views") and is the only
// type this module's cmd/ entrypoints construct directly.
type Facade struct {
	cfg     *config.Config
	dataDir string
	deps    Deps

	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	shutdown bool

	chunkStore   store.ChunkStore
	vectorIndex  store.VectorStore
	keywordIndex store.BM25Index
	embedder     embed.Embedder
	queryCache   *cache.Cache
	reranker     rerank.Reranker
	enhancer     *contextual.Enhancer
	metrics      *telemetry.QueryMetrics

	// rerankerAvailable/enhancerAvailable record whether C5/C6 came up
	// healthy at Initialize time (spec.md §4.8 "failure of the reranker
	// or enhancer is non-fatal ... continues with a degraded feature
	// flag"). Search() consults these rather than probing on every call.
	rerankerAvailable bool
	enhancerAvailable bool

	pipelines map[string]*pipeline.Pipeline

	// Progress is the façade's single progress-event sink. Buffered so a
	// slow/absent subscriber never blocks a search() or batch call.
	Progress chan ProgressEvent

	// precomputeMu/precomputeIndexer guard the single background
	// precompute job this façade may have in flight, so a second
	// PrecomputeEmbeddingsAsync call joins the running job instead of
	// starting a racing second pass over the same chunk store.
	precomputeMu      sync.Mutex
	precomputeIndexer *async.BackgroundIndexer

	// compactMu guards lastSearchAt/lastCompactAt, the idle/cooldown
	// clocks maybeCompact reads to decide whether the HNSW index's lazily
	// deleted orphan nodes are worth reclaiming right now.
	compactMu     sync.Mutex
	lastSearchAt  time.Time
	lastCompactAt time.Time
}

// New constructs a Facade bound to cfg and dataDir. Nothing is built
// until Initialize runs; Deps lets callers (tests) pre-seed any subset
// of the owned components.
func New(cfg *config.Config, dataDir string, deps Deps) *Facade {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Facade{
		cfg:       cfg,
		dataDir:   dataDir,
		deps:      deps,
		pipelines: make(map[string]*pipeline.Pipeline),
		Progress:  make(chan ProgressEvent, 64),
	}
}

// DataDir resolves the per-user data directory spec.md §6 lays out
// (`docs.db`, `vectors/`, `cache/`, `manifest.json`, `models/`),
// following XDG_DATA_HOME if set and falling back to ~/.local/share,
// the data-directory analogue of the teacher's config.go
// GetUserConfigPath (which resolves the sibling *config* path under
// XDG_CONFIG_HOME/~/.config).
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "recall")
	}
	return filepath.Join(home, ".local", "share", "recall")
}

// Initialize builds every owned component in dependency order (chunk
// store, embedder, vector/keyword indices, cache, then the optional
// reranker/enhancer) and is safe to call concurrently — every caller
// after the first coalesces onto the same sync.Once outcome, per
// spec.md §4.8's "single-initialization guarded by a latch; concurrent
// initialize() calls coalesce".
func (f *Facade) Initialize(ctx context.Context) error {
	f.initOnce.Do(func() {
		f.initErr = f.initialize(ctx)
	})
	return f.initErr
}

func (f *Facade) initialize(ctx context.Context) error {
	if f.dataDir == "" {
		f.dataDir = DataDir()
	}
	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return fmt.Errorf("facade: create data dir: %w", err)
	}

	f.chunkStore = f.deps.ChunkStore
	if f.chunkStore == nil {
		cs, err := store.NewSQLiteChunkStore(filepath.Join(f.dataDir, "docs.db"))
		if err != nil {
			return fmt.Errorf("facade: open chunk store: %w", err)
		}
		f.chunkStore = cs
	}

	f.embedder = f.deps.Embedder
	if f.embedder == nil {
		emb, err := embed.NewEmbedder(ctx, embed.ProviderType(f.cfg.Embeddings.Provider), f.cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("facade: create embedder: %w", err)
		}
		f.embedder = emb
	}

	f.vectorIndex = f.deps.VectorIndex
	if f.vectorIndex == nil {
		dims := f.cfg.Embeddings.Dimensions
		if dims <= 0 {
			dims = f.embedder.Dimensions()
		}
		vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
		if err != nil {
			return fmt.Errorf("facade: create vector index: %w", err)
		}
		vectorPath := filepath.Join(f.dataDir, "vectors", "index.gob")
		if _, statErr := os.Stat(vectorPath); statErr == nil {
			if loadErr := vs.Load(vectorPath); loadErr != nil {
				slog.Warn("facade: vector index load failed, rebuilding from chunk store", "error", loadErr)
			}
		}
		// EnableWAL makes every subsequent Add/Delete fsync before
		// returning (spec.md §4.2), replaying anything left over from a
		// crash between this load and the last full Save.
		if walErr := vs.EnableWAL(vectorPath + ".wal"); walErr != nil {
			slog.Warn("facade: vector index wal unavailable, inserts won't be durable until shutdown", "error", walErr)
		}
		f.vectorIndex = vs
	}

	f.keywordIndex = f.deps.KeywordIndex
	if f.keywordIndex == nil {
		basePath := filepath.Join(f.dataDir, "bm25")
		kw, err := store.NewBM25IndexWithBackend(basePath, store.DefaultBM25Config(), f.cfg.Search.BM25Backend)
		if err != nil {
			return fmt.Errorf("facade: create keyword index: %w", err)
		}
		f.keywordIndex = kw
	}

	f.queryCache = f.deps.Cache
	if f.queryCache == nil {
		f.queryCache = cache.New(cache.Config{
			Dir:      filepath.Join(f.dataDir, "cache"),
			Embedder: f.embedder,
		})
	}

	f.metrics = telemetry.NewQueryMetrics(nil)

	f.initReranker(ctx)
	f.initEnhancer(ctx)

	for name, profile := range pipeline.Profiles {
		f.pipelines[name] = pipeline.New(profile, f.pipelineDeps())
	}

	return nil
}

// pipelineDeps snapshots the façade's currently-live components into a
// Deps value for a Pipeline to read. Called once per profile at
// Initialize time and again whenever SetAPIKey rotates the enhancer.
func (f *Facade) pipelineDeps() *pipeline.Deps {
	return &pipeline.Deps{
		Keyword:    f.keywordIndex,
		Vector:     f.vectorIndex,
		Embedder:   f.embedder,
		Cache:      f.queryCache,
		Reranker:   f.degradedReranker(),
		Enhancer:   f.degradedEnhancer(),
		ChunkStore: f.chunkStore,
	}
}

// initReranker brings up C5. Per spec.md §4.8, its failure is recorded,
// not fatal: Search falls back to an unreranked result when disabled.
func (f *Facade) initReranker(ctx context.Context) {
	if f.deps.Reranker != nil {
		f.reranker = f.deps.Reranker
		f.rerankerAvailable = f.reranker.Available(ctx)
		return
	}
	r := rerank.New(ctx, rerank.Config{Fallback: f.embedder})
	f.reranker = r
	f.rerankerAvailable = r.Available(ctx)
	if !f.rerankerAvailable {
		slog.Warn("facade: cross-encoder reranker unavailable, accurate/research profiles degrade to unreranked")
	}
}

// initEnhancer brings up C6 the same way: absence degrades the
// contextual pipeline stages to the pattern-based fallback path that
// contextual.Enhancer already falls back to internally, never the
// caller's problem to special-case.
func (f *Facade) initEnhancer(ctx context.Context) {
	if f.deps.Enhancer != nil {
		f.enhancer = f.deps.Enhancer
		f.enhancerAvailable = true
		return
	}
	if !f.cfg.Contextual.Enabled || f.cfg.APIKey == "" {
		f.enhancerAvailable = false
		return
	}
	gen := contextual.NewGenerativeEnhancer(f.cfg.APIKey, "", f.cfg.Contextual.Model)
	f.enhancer = contextual.New(gen, f.embedder)
	f.enhancerAvailable = gen.Available(ctx)
	if !f.enhancerAvailable {
		slog.Warn("facade: generative contextual enhancer unavailable, falling back to pattern-based enhancement")
	}
}

// degradedReranker returns the live reranker, or nil so pipeline stages
// skip cross_encoder_rerank entirely rather than calling into a known-
// unavailable backend every time.
func (f *Facade) degradedReranker() pipeline.Reranker {
	if f.reranker == nil || !f.rerankerAvailable {
		return nil
	}
	return f.reranker
}

func (f *Facade) degradedEnhancer() pipeline.Enhancer {
	if f.enhancer == nil {
		return nil
	}
	return f.enhancer
}

// SetAPIKey rotates the credential used by the remote embedding and
// generative backends (spec.md §4.8 "rotating an API key propagates to
// C1 and C6"). The contextual generator is rebuilt against the new key;
// a C1 backend that accepts a key (embed.RemoteEmbedder, bare or wrapped
// in a CachedEmbedder) has it rotated in place so in-flight requests pick
// it up on their next call rather than waiting for a fresh construction.
// Safe to call only after Initialize has returned.
func (f *Facade) SetAPIKey(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg.APIKey = key
	if key == "" {
		return
	}
	gen := contextual.NewGenerativeEnhancer(key, "", f.cfg.Contextual.Model)
	f.enhancer = contextual.New(gen, f.embedder)
	f.enhancerAvailable = gen.Available(ctx)
	rotateEmbedderAPIKey(f.embedder, key)

	// Deps is captured by value at pipeline.New time, so the rotated
	// enhancer only takes effect once every profile's Pipeline is rebuilt.
	for name, profile := range pipeline.Profiles {
		f.pipelines[name] = pipeline.New(profile, f.pipelineDeps())
	}
}

// rotateEmbedderAPIKey finds the innermost embed.RemoteEmbedder behind any
// number of CachedEmbedder wrappers and rotates its credential in place;
// other C1 backends (Ollama, MLX, static) don't accept a key and are left
// untouched.
func rotateEmbedderAPIKey(e embed.Embedder, key string) {
	for {
		switch v := e.(type) {
		case *embed.RemoteEmbedder:
			v.SetAPIKey(key)
			return
		case *embed.CachedEmbedder:
			e = v.Inner()
		default:
			return
		}
	}
}

// publish sends an event without blocking the caller when the channel
// is full; a stalled subscriber must not stall a search.
func (f *Facade) publish(ev ProgressEvent) {
	select {
	case f.Progress <- ev:
	default:
	}
}

// Shutdown flushes and closes every owned component exactly once. A
// second call is a no-op, mirroring the teacher's shutdown-flag guard
// in daemon/server.go.
func (f *Facade) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return nil
	}
	f.shutdown = true
	f.mu.Unlock()

	var errs []error
	if f.vectorIndex != nil {
		if err := os.MkdirAll(filepath.Join(f.dataDir, "vectors"), 0o755); err == nil {
			if err := f.vectorIndex.Save(filepath.Join(f.dataDir, "vectors", "index.gob")); err != nil {
				errs = append(errs, err)
			}
		}
		if err := f.vectorIndex.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.keywordIndex != nil {
		if err := f.keywordIndex.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.queryCache != nil {
		if err := f.queryCache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.reranker != nil {
		if err := f.reranker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.embedder != nil {
		if err := f.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.chunkStore != nil {
		if err := f.chunkStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	close(f.Progress)

	if len(errs) > 0 {
		return fmt.Errorf("facade: shutdown errors: %v", errs)
	}
	return nil
}
