package chunkmodel

// Strategy tags the retrieval method that produced (or last touched) a
// result, so stages and callers can explain why a candidate is present.
type Strategy string

const (
	StrategyKeyword     Strategy = "keyword"
	StrategySemantic    Strategy = "semantic"
	StrategyHybrid      Strategy = "hybrid"
	StrategyContextual  Strategy = "contextual"
	StrategyMultiVariant Strategy = "multi_variant"
)

// Annotations records per-stage diagnostic facts about a result without
// resorting to a map[string]any grab-bag — each field is named and typed
// so downstream stages/tests can assert on it directly.
type Annotations struct {
	CrossEncoderScore *float64
	OriginalScore     *float64
	ContextEnriched   bool
	DeadlineReached   bool
	// StageTimedOut names the first stage (if any) that missed its
	// per-stage deadline and passed its input through unchanged.
	StageTimedOut string
}

// SearchResult is the unit returned by every public search operation.
type SearchResult struct {
	ChunkID     string
	Content     string
	Score       float64 // always in [0,1] after final normalization
	SourceMeta  Metadata
	Strategy    Strategy
	Explanation string
	Annotations Annotations

	// Context holds adjacent-chunk text attached by the context
	// enrichment stage, empty otherwise.
	Context string
}
