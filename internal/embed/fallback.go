package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FallbackDimensions is the embedding dimension of the deterministic
// fallback embedder. spec.md §4.1 picks 384 so the fallback tier sits
// between Ollama's common 768-dim models and the smaller end of remote
// API dimensions, keeping re-projection cheap if a corpus later moves
// onto a real backend.
const FallbackDimensions = 384

// FallbackModelName is the model identifier FallbackEmbedder reports.
// Every embedding carries the name of the model that produced it
// (spec.md §2), so a distinct, versioned id here lets callers detect
// and downweight or rebuild vectors produced while no real embedding
// backend was reachable.
const FallbackModelName = "fallback-static-v1"

// FallbackEmbedder is the deterministic backend spec.md §4.1 names as
// tier (c) of the embedding chain: character/token hashing projected
// into a fixed-size unit vector, with no network calls and no model to
// load. It never fails on non-empty input, which is what lets
// newDefaultWithFallback treat it as the chain's unconditional floor.
type FallbackEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewFallbackEmbedder creates a new deterministic fallback embedder.
func NewFallbackEmbedder() *FallbackEmbedder {
	return &FallbackEmbedder{}
}

// Embed generates embedding for a single text.
func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, FallbackDimensions), nil
	}

	vector := e.generateVector(trimmed)
	return normalizeVector(vector), nil
}

// generateVector creates a hash-based vector from text, using the same
// tokenize/filter/n-gram pipeline as StaticEmbedder but at 384 dimensions.
func (e *FallbackEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, FallbackDimensions)

	tokens := tokenize(text)
	tokens = filterStopWords(tokens)
	for _, token := range tokens {
		index := hashToIndex(token, FallbackDimensions)
		vector[index] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, FallbackDimensions)
		vector[index] += ngramWeight
	}

	return vector
}

// EmbedBatch generates embeddings for multiple texts.
func (e *FallbackEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *FallbackEmbedder) Dimensions() int {
	return FallbackDimensions
}

// ModelName returns the model identifier.
func (e *FallbackEmbedder) ModelName() string {
	return FallbackModelName
}

// Available checks if the embedder is ready (always true for the fallback).
func (e *FallbackEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *FallbackEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetBatchIndex is a no-op for the fallback embedder (no thermal management needed).
func (e *FallbackEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op for the fallback embedder (no thermal management needed).
func (e *FallbackEmbedder) SetFinalBatch(_ bool) {}
