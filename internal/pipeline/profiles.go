package pipeline

import (
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// Default per-stage timeouts. Each stage's own Timeout is the remaining
// portion of the request's max_latency in principle (spec.md §4.7 "Per-
// stage timeout ... default = remaining portion of max_latency"); these
// constants are the fallback used when a caller hasn't supplied an
// overall deadline tight enough to derive one from, keeping any single
// stage from running away unbounded.
const (
	defaultRetrievalTimeout = 2 * time.Second
	defaultRerankTimeout    = 3 * time.Second
	defaultEnrichTimeout    = 1 * time.Second
)

// FastProfile favors latency: one keyword pass, one vector pass, final
// scoring only. No merge, no rerank, no contextual step.
var FastProfile = chunkmodel.PipelineProfile{
	Name: "fast",
	Stages: []chunkmodel.StageConfig{
		{Name: "broad_retrieval", Enabled: true, Multiplier: 3, Strategy: chunkmodel.StrategyKeyword, Timeout: defaultRetrievalTimeout},
		{Name: "vector_search", Enabled: true, Multiplier: 2, Strategy: chunkmodel.StrategySemantic, Timeout: defaultRetrievalTimeout},
		{Name: "final_scoring", Enabled: true, Multiplier: 1, Timeout: defaultEnrichTimeout},
	},
}

// BalancedProfile is the default: keyword+vector merged, heuristically
// reranked, lightly enriched.
var BalancedProfile = chunkmodel.PipelineProfile{
	Name: "balanced",
	Stages: []chunkmodel.StageConfig{
		{Name: "broad_retrieval", Enabled: true, Multiplier: 5, Strategy: chunkmodel.StrategyKeyword, Timeout: defaultRetrievalTimeout},
		{Name: "vector_search", Enabled: true, Multiplier: 3, Strategy: chunkmodel.StrategySemantic, Timeout: defaultRetrievalTimeout},
		{Name: "hybrid_merge", Enabled: true, Multiplier: 2, Strategy: chunkmodel.StrategyHybrid, Timeout: defaultRetrievalTimeout},
		{Name: "heuristic_rerank", Enabled: true, Multiplier: 1.5, Timeout: defaultRerankTimeout},
		{Name: "context_enrichment", Enabled: true, Multiplier: 1, Timeout: defaultEnrichTimeout},
		{Name: "final_scoring", Enabled: true, Multiplier: 1, Timeout: defaultEnrichTimeout},
	},
}

// AccurateProfile adds contextual re-querying, the cross-encoder, and
// semantic query expansion on top of the balanced path, at higher
// candidate multipliers throughout.
var AccurateProfile = chunkmodel.PipelineProfile{
	Name: "accurate",
	Stages: []chunkmodel.StageConfig{
		{Name: "broad_retrieval", Enabled: true, Multiplier: 10, Strategy: chunkmodel.StrategyKeyword, Timeout: defaultRetrievalTimeout},
		{Name: "vector_search", Enabled: true, Multiplier: 5, Strategy: chunkmodel.StrategySemantic, Timeout: defaultRetrievalTimeout},
		{Name: "hybrid_merge", Enabled: true, Multiplier: 3, Strategy: chunkmodel.StrategyHybrid, Timeout: defaultRetrievalTimeout},
		{Name: "contextual", Enabled: true, Multiplier: 2.5, Strategy: chunkmodel.StrategyContextual, Timeout: defaultRerankTimeout},
		{Name: "heuristic_rerank", Enabled: true, Multiplier: 2, Timeout: defaultRerankTimeout},
		{Name: "cross_encoder_rerank", Enabled: true, Multiplier: 1.5, Timeout: defaultRerankTimeout},
		{Name: "context_enrichment", Enabled: true, Multiplier: 1.2, Timeout: defaultEnrichTimeout},
		{Name: "semantic_expansion", Enabled: true, Multiplier: 1.1, Timeout: defaultRetrievalTimeout},
		{Name: "final_scoring", Enabled: true, Multiplier: 1, Timeout: defaultEnrichTimeout},
	},
}

// ResearchProfile is the exhaustive path: query-variant keyword and
// vector sweeps, multi-strategy fan-out, and document expansion, for
// callers who want maximal recall and can afford the latency.
var ResearchProfile = chunkmodel.PipelineProfile{
	Name: "research",
	Stages: []chunkmodel.StageConfig{
		{Name: "exhaustive_keyword", Enabled: true, Multiplier: 20, Strategy: chunkmodel.StrategyKeyword, Timeout: defaultRetrievalTimeout},
		{Name: "deep_vector", Enabled: true, Multiplier: 10, Strategy: chunkmodel.StrategySemantic, Timeout: defaultRetrievalTimeout},
		{Name: "multi_strategy", Enabled: true, Multiplier: 5, Strategy: chunkmodel.StrategyMultiVariant, Timeout: defaultRetrievalTimeout},
		{Name: "document_expansion", Enabled: true, Multiplier: 3, Timeout: defaultEnrichTimeout},
		{Name: "heuristic_rerank", Enabled: true, Multiplier: 1.5, Timeout: defaultRerankTimeout},
		{Name: "context_enrichment", Enabled: true, Multiplier: 1.2, Timeout: defaultEnrichTimeout},
		{Name: "final_scoring", Enabled: true, Multiplier: 1, Timeout: defaultEnrichTimeout},
	},
}

// Profiles indexes the four shipped profiles by name for config-driven
// lookup (spec.md §6 "search_profile ∈ {fast,balanced,accurate,research}").
var Profiles = map[string]chunkmodel.PipelineProfile{
	FastProfile.Name:     FastProfile,
	BalancedProfile.Name: BalancedProfile,
	AccurateProfile.Name: AccurateProfile,
	ResearchProfile.Name: ResearchProfile,
}

// ProfileByName returns the named profile, defaulting to balanced per
// spec.md §6 when name is unrecognized or empty.
func ProfileByName(name string) chunkmodel.PipelineProfile {
	if p, ok := Profiles[name]; ok {
		return p
	}
	return BalancedProfile
}
