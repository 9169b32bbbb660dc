// Package contextual implements the Contextual Enhancer (C6): rewrites
// a query or passage using a generative model so its embedding reflects
// intent and synonymy better, per spec.md §4.6. Grounded on the
// teacher's index/contextual.go dual-path split (LLM generator vs.
// pattern-based fallback), generalized from per-chunk code context
// generation to the spec's expand/summarize/hybrid query rewriting.
package contextual

import (
	"context"
	"math"
	"strings"
)

// Strategy selects how Enhance rewrites the input text.
type Strategy string

const (
	StrategyExpand    Strategy = "expand"
	StrategySummarize Strategy = "summarize"
	StrategyHybrid    Strategy = "hybrid"
)

// DocumentContext carries the caller's situational knowledge about the
// text being enhanced, spec.md §4.6 verbatim.
type DocumentContext struct {
	DocumentType     string
	UserIntent       string
	PreviousQueries  []string
	RelatedDocuments []string
	Metadata         map[string]string
}

// richFieldCount returns how many of the "rich context" fields are
// populated, feeding the confidence heuristic (spec.md §4.6: "+0.1 per
// rich context field present").
func (d DocumentContext) richFieldCount() int {
	n := 0
	if d.DocumentType != "" {
		n++
	}
	if d.UserIntent != "" {
		n++
	}
	if len(d.PreviousQueries) > 0 {
		n++
	}
	return n
}

// EnhancementResult is Enhance's output, spec.md §4.6 verbatim.
type EnhancementResult struct {
	CombinedVector []float32
	OriginalText   string
	EnhancedText   string
	Context        DocumentContext
	Confidence     float64
	ModelID        string
}

// Embedder is the minimal capability Enhance needs to compute the
// combined vector. internal/embed.Embedder satisfies this structurally.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Generator produces the enhanced text for a given strategy. Two
// implementations: GenerativeEnhancer (LLM-backed) and PatternEnhancer
// (the degradation path, spec.md §4.6 "simple enhancement").
type Generator interface {
	Generate(ctx context.Context, text string, strategy Strategy, docCtx DocumentContext) (enhanced string, confidenceCeiling float64, err error)
	Available(ctx context.Context) bool
}

// Enhancer orchestrates a Generator and an Embedder to produce the
// combined-vector enhancement result spec.md §4.6 describes.
type Enhancer struct {
	generator Generator
	embedder  Embedder
}

// New constructs an Enhancer. If generator is unavailable at call time,
// Enhance transparently falls back to a PatternEnhancer instance so the
// caller never has to branch on availability itself.
func New(generator Generator, embedder Embedder) *Enhancer {
	return &Enhancer{generator: generator, embedder: embedder}
}

// Enhance rewrites text per strategy, embeds both the original and
// enhanced text, and blends them into CombinedVector using the
// confidence-derived weights from spec.md §4.6.
func (e *Enhancer) Enhance(ctx context.Context, text string, strategy Strategy, docCtx DocumentContext) (*EnhancementResult, error) {
	gen := e.generator
	if gen == nil || !gen.Available(ctx) {
		gen = PatternEnhancer{}
	}

	enhanced, confidenceCeiling, err := gen.Generate(ctx, text, strategy, docCtx)
	if err != nil {
		// The generator itself degraded; fall all the way to the
		// pattern path rather than failing the caller (spec.md §4.6
		// "Degradation").
		enhanced, confidenceCeiling, err = PatternEnhancer{}.Generate(ctx, text, strategy, docCtx)
		if err != nil {
			return nil, err
		}
	}

	confidence := computeConfidence(text, enhanced, docCtx, confidenceCeiling)

	origVec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	enhVec, err := e.embedder.Embed(ctx, enhanced)
	if err != nil {
		return nil, err
	}

	combined := blend(origVec, enhVec, confidence)

	return &EnhancementResult{
		CombinedVector: combined,
		OriginalText:   text,
		EnhancedText:   enhanced,
		Context:        docCtx,
		Confidence:     confidence,
		ModelID:        e.embedder.ModelName(),
	}, nil
}

// computeConfidence implements spec.md §4.6's heuristic: base 0.5,
// +0.2 if enhancement length grew 1.2x-3x, +0.1 per rich context
// field present, capped at 1.0, and never above the generator's
// confidenceCeiling (the pattern path caps at 0.7).
func computeConfidence(original, enhanced string, docCtx DocumentContext, ceiling float64) float64 {
	confidence := 0.5

	if len(original) > 0 {
		ratio := float64(len(enhanced)) / float64(len(original))
		if ratio >= 1.2 && ratio <= 3.0 {
			confidence += 0.2
		}
	}

	confidence += 0.1 * float64(docCtx.richFieldCount())

	if confidence > 1.0 {
		confidence = 1.0
	}
	if ceiling > 0 && confidence > ceiling {
		confidence = ceiling
	}
	return confidence
}

// blend computes normalize(w_o*v(original) + w_e*v(enhanced)) with
// w_e = 0.3 + 0.4*confidence, w_o = 1 - w_e (spec.md §4.6 verbatim).
func blend(original, enhanced []float32, confidence float64) []float32 {
	we := 0.3 + 0.4*confidence
	wo := 1 - we

	n := len(original)
	if len(enhanced) < n {
		n = len(enhanced)
	}
	combined := make([]float32, n)
	for i := 0; i < n; i++ {
		combined[i] = float32(wo*float64(original[i]) + we*float64(enhanced[i]))
	}
	return normalize(combined)
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	mag := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// truncateAtSentence trims text to at most maxLen bytes, preferring to
// cut at the last sentence boundary found (spec.md §4.6 "truncation
// occurs at sentence boundaries").
func truncateAtSentence(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := text[:maxLen]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > maxLen/2 {
		return cut[:idx+1]
	}
	return cut
}
