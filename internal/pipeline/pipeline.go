// Package pipeline implements the Retrieval Pipeline (C7): an ordered,
// profile-driven sequence of stages that turn a query into a ranked,
// annotated result list under a deadline. Grounded on the teacher's
// search/engine.go orchestration generalized from a single hybrid-merge
// call into spec.md §4.7's multi-stage, profile-parameterized pipeline
// — stages run strictly sequentially (spec.md §5 "within a single
// search() call, stages are strictly sequential") while each stage may
// fan out internally via errgroup the way engine.go's parallelSearch
// does for BM25+vector.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// Deps bundles every collaborator a stage might need. Passed by
// pointer to each Stage call so stages stay pure functions of
// (ctx, candidates, config, deps) rather than closures over
// constructor-time state — easy to unit test a stage in isolation.
type Deps struct {
	Keyword    KeywordSearcher
	Vector     VectorSearcher
	Embedder   Embedder
	Cache      QueryCache
	Reranker   Reranker
	Enhancer   Enhancer
	ChunkStore ChunkStore
}

// Request is one search() invocation's parameters (spec.md §4.8).
type Request struct {
	Query         string
	Limit         int
	Context       chunkmodel.Metadata
	UseCache      bool
	Rerank        bool
	MinConfidence float64
	MaxLatency    time.Duration
}

// Candidate is a result in progress through the pipeline: it carries
// everything SearchResult does, plus per-stage bookkeeping the final
// scoring stage consumes and then discards.
type Candidate struct {
	chunkmodel.SearchResult
	Confidence float64

	// KeywordScore and VectorScore hold the raw per-strategy scores a
	// candidate accrued from broad_retrieval/exhaustive_keyword and
	// vector_search/deep_vector respectively, zero if the candidate was
	// never produced by that strategy. hybrid_merge reads both to
	// compute spec.md §4.7's 0.7·vector + 0.3·keyword blend.
	KeywordScore float64
	VectorScore  float64
}

// CandidateSet is the pipeline's working value between stages.
type CandidateSet struct {
	Candidates []Candidate
	Deadline   time.Time

	// timedOutStage names the first stage (if any) that missed its
	// per-stage deadline and passed its input through unchanged
	// (spec.md §4.7); propagated into result annotations at the end.
	timedOutStage string
}

// Stage transforms a candidate set into another one. A stage must
// never panic or propagate an error past the pipeline boundary — any
// error is caught by runStage and treated as "return input unchanged"
// (spec.md §7 PipelineStageError).
type Stage func(ctx context.Context, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig, deps *Deps) (*CandidateSet, error)

var registry = map[string]Stage{
	"broad_retrieval":      stageBroadRetrieval,
	"exhaustive_keyword":   stageExhaustiveKeyword,
	"vector_search":        stageVectorSearch,
	"deep_vector":          stageDeepVector,
	"hybrid_merge":         stageHybridMerge,
	"multi_strategy":       stageMultiStrategy,
	"contextual":           stageContextual,
	"document_expansion":   stageDocumentExpansion,
	"heuristic_rerank":     stageHeuristicRerank,
	"cross_encoder_rerank": stageCrossEncoderRerank,
	"context_enrichment":   stageContextEnrichment,
	"semantic_expansion":   stageSemanticExpansion,
	"final_scoring":        stageFinalScoring,
}

// Pipeline runs one PipelineProfile's stages in order.
type Pipeline struct {
	profile chunkmodel.PipelineProfile
	deps    *Deps
}

// New constructs a Pipeline bound to profile and deps.
func New(profile chunkmodel.PipelineProfile, deps *Deps) *Pipeline {
	return &Pipeline{profile: profile, deps: deps}
}

// Run executes every enabled stage of the profile in order, enforcing
// per-stage timeouts, the early-termination latency guard, and the
// overall max_latency deadline, and returns the final, truncated
// result list plus accumulated metrics. Run never returns an error —
// a zero-result outcome is a legitimate final answer (spec.md §4.7
// failure model); errors from individual stages are absorbed.
func (p *Pipeline) Run(ctx context.Context, req Request) ([]chunkmodel.SearchResult, *Metrics) {
	metrics := newMetrics()
	start := time.Now()

	deadline := time.Now().Add(req.MaxLatency)
	if req.MaxLatency <= 0 {
		deadline = time.Now().Add(30 * time.Second)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	cs := &CandidateSet{Deadline: deadline}

	for _, stageCfg := range p.profile.Stages {
		if !stageCfg.Enabled {
			continue
		}
		fn, ok := registry[stageCfg.Name]
		if !ok {
			slog.Warn("pipeline: unknown stage, skipping", "stage", stageCfg.Name)
			continue
		}

		target := int(math.Ceil(float64(req.Limit) * stageCfg.Multiplier))
		if target < req.Limit {
			target = req.Limit
		}

		stageStart := time.Now()
		next, deadlineHit := p.runStage(ctx, fn, req.Query, target, cs, stageCfg)
		cs = next
		metrics.recordStage(stageCfg.Name, time.Since(stageStart), len(cs.Candidates), averageConfidence(cs.Candidates))

		if deadlineHit {
			markDeadlineReached(cs)
			break
		}
		if earlyTerminate(cs.Candidates, req.MinConfidence, req.Limit) {
			break
		}
		if time.Now().After(deadline) {
			markDeadlineReached(cs)
			break
		}
	}

	results := toResults(cs, req.Limit)
	metrics.TotalWallTime = time.Since(start)
	metrics.FinalResultCount = len(results)
	return results, metrics
}

// runStage executes fn under its own deadline (the stage's configured
// Timeout, or the remaining portion of the overall deadline if unset).
// On timeout or error it returns the input candidate set unchanged and
// flags StageTimedOut/the stage's diagnostic, per spec.md §4.7 "Per-
// stage timeout".
func (p *Pipeline) runStage(ctx context.Context, fn Stage, query string, limit int, cs *CandidateSet, cfg chunkmodel.StageConfig) (*CandidateSet, bool) {
	stageCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	type result struct {
		cs  *CandidateSet
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{cs, nil}
			}
		}()
		next, err := fn(stageCtx, query, limit, cs, cfg, p.deps)
		done <- result{next, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			slog.Warn("pipeline: stage failed, passing input through", "stage", cfg.Name, "error", r.err)
			return cs, false
		}
		return r.cs, false
	case <-stageCtx.Done():
		slog.Warn("pipeline: stage timed out, passing input through", "stage", cfg.Name)
		if cs.timedOutStage == "" {
			cs.timedOutStage = cfg.Name
		}
		return cs, ctx.Err() != nil
	}
}

// earlyTerminate is the spec.md §4.7 latency guard: if the count of
// candidates scoring at least min_confidence*1.5 is already at least
// 2*limit, subsequent stages are skipped.
func earlyTerminate(candidates []Candidate, minConfidence float64, limit int) bool {
	if minConfidence <= 0 || limit <= 0 {
		return false
	}
	threshold := minConfidence * 1.5
	count := 0
	for _, c := range candidates {
		if c.Score >= threshold {
			count++
		}
	}
	return count >= 2*limit
}

func averageConfidence(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.Score
	}
	return sum / float64(len(candidates))
}

func markDeadlineReached(cs *CandidateSet) {
	for i := range cs.Candidates {
		cs.Candidates[i].Annotations.DeadlineReached = true
	}
}

func toResults(cs *CandidateSet, limit int) []chunkmodel.SearchResult {
	candidates := cs.Candidates
	if limit < 0 {
		limit = 0
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]chunkmodel.SearchResult, len(candidates))
	for i, c := range candidates {
		r := c.SearchResult
		if cs.timedOutStage != "" && r.Annotations.StageTimedOut == "" {
			r.Annotations.StageTimedOut = cs.timedOutStage
		}
		out[i] = r
	}
	return out
}
