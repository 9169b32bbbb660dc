package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// Defaults per spec.md §4.5.
const (
	DefaultEndpoint   = "http://localhost:9659"
	DefaultModel      = "reranker-small"
	DefaultTimeout    = 30 * time.Second
	DefaultBatchSize  = 8
	// DefaultTokenBudget approximates a model-specific input budget;
	// passages are truncated (at a sentence boundary) to keep
	// query+passage under this character count as a cheap proxy for
	// token count, avoiding a tokenizer dependency the teacher doesn't
	// carry either.
	DefaultTokenBudget = 2000
)

// FallbackEmbedder is the minimal capability the reranker needs to
// compute a pooled-embedding cosine fallback score when the remote
// cross-encoder is unavailable (spec.md §4.5 "fallback").
type FallbackEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures a CrossEncoderReranker.
type Config struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	BatchSize  int
	TokenBudget int
	Fallback   FallbackEmbedder
}

func (c *Config) setDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
}

// CrossEncoderReranker scores (query, passage) pairs against a local
// model server, batching candidates and truncating passages to fit the
// model's input budget. A warm-up pass at construction pays the first-
// inference cost off the query path (spec.md §4.5).
type CrossEncoderReranker struct {
	cfg    Config
	client *http.Client

	mu        sync.RWMutex
	available bool
	closed    bool
}

var _ Reranker = (*CrossEncoderReranker)(nil)

// New constructs a CrossEncoderReranker and runs a warm-up scoring pass
// against a dummy pair. Warm-up failure is not fatal: Available reports
// false and every Rerank call degrades to the fallback path.
func New(ctx context.Context, cfg Config) *CrossEncoderReranker {
	cfg.setDefaults()
	r := &CrossEncoderReranker{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	warmCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if _, err := r.scoreBatch(warmCtx, "warmup", []string{"warmup passage"}); err != nil {
		slog.Warn("rerank: warm-up failed, reranker unavailable until a successful call", "error", err)
		r.available = false
	} else {
		r.available = true
	}
	return r
}

func (r *CrossEncoderReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available && !r.closed
}

func (r *CrossEncoderReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Rerank scores every document against query, batching DefaultBatchSize
// at a time, and returns results sorted by score descending. On any
// failure (unavailable model, timeout) it falls back to pooled-
// embedding cosine similarity if a FallbackEmbedder is configured,
// otherwise returns the input in its original order — it never errors
// the caller (spec.md §4.5).
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	results := make([]RerankResult, len(documents))
	for i := range documents {
		results[i] = RerankResult{Index: i, Document: documents[i]}
	}

	if r.Available(ctx) {
		scores, err := r.scoreAllBatched(ctx, query, documents)
		if err == nil {
			for i, s := range scores {
				results[i].Score = s
			}
			sortByScore(results)
			return truncate(results, topK), nil
		}
		slog.Warn("rerank: batch scoring failed, degrading", "error", err)
	}

	if r.cfg.Fallback != nil {
		scores, err := r.cosineFallback(ctx, query, documents)
		if err == nil {
			for i, s := range scores {
				results[i].Score = s
			}
			sortByScore(results)
			return truncate(results, topK), nil
		}
		slog.Warn("rerank: cosine fallback failed, returning input unchanged", "error", err)
	}

	// Final fallback: input order, decreasing synthetic scores, so the
	// pipeline's diagnostic annotation (not this package) can flag the
	// degradation without the reranker itself ever erroring out.
	for i := range results {
		results[i].Score = 1.0 - float64(i)*0.01
	}
	return truncate(results, topK), nil
}

func (r *CrossEncoderReranker) scoreAllBatched(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for start := 0; start < len(documents); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := make([]string, end-start)
		for i, doc := range documents[start:end] {
			batch[i] = truncateToBudget(doc, r.cfg.TokenBudget-len(query))
		}
		batchScores, err := r.scoreBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		copy(scores[start:end], batchScores)
	}
	return scores, nil
}

// truncateToBudget trims text to at most n bytes, backing up to the
// last sentence boundary (., !, ?) when one exists in the tail, per
// spec.md §4.5 "truncates ... to keep total input under a token
// budget".
func truncateToBudget(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return text
	}
	cut := text[:n]
	for i := len(cut) - 1; i >= 0 && i > n/2; i-- {
		if c := cut[i]; c == '.' || c == '!' || c == '?' {
			return cut[:i+1]
		}
	}
	return cut
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *CrossEncoderReranker) scoreBatch(ctx context.Context, query string, batch []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Documents: batch, Model: r.cfg.Model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Scores) != len(batch) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(parsed.Scores), len(batch))
	}
	for i, s := range parsed.Scores {
		parsed.Scores[i] = sigmoid(s)
	}
	return parsed.Scores, nil
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (r *CrossEncoderReranker) cosineFallback(ctx context.Context, query string, documents []string) ([]float64, error) {
	qVec, err := r.cfg.Fallback.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(documents))
	for i, doc := range documents {
		dVec, err := r.cfg.Fallback.Embed(ctx, doc)
		if err != nil {
			return nil, err
		}
		scores[i] = chunkmodel.UnitClamp(chunkmodel.CosineSimilarity(qVec, dVec))
	}
	return scores, nil
}

func sortByScore(results []RerankResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func truncate(results []RerankResult, topK int) []RerankResult {
	if topK > 0 && topK < len(results) {
		return results[:topK]
	}
	return results
}

// RankMovement records how far a candidate moved between the input
// order and the reranked order, for the top-K debugging log spec.md
// §4.5 asks for.
type RankMovement struct {
	Index         int
	OriginalRank  int
	NewRank       int
}

// LogRankMovements emits the top-K rank movements at debug level.
func LogRankMovements(results []RerankResult, topK int) []RankMovement {
	n := topK
	if n <= 0 || n > len(results) {
		n = len(results)
	}
	moves := make([]RankMovement, 0, n)
	for newRank, r := range results[:n] {
		move := RankMovement{Index: r.Index, OriginalRank: r.Index, NewRank: newRank}
		moves = append(moves, move)
		if move.OriginalRank != move.NewRank {
			slog.Debug("rerank: candidate moved", "index", r.Index, "from", move.OriginalRank, "to", move.NewRank)
		}
	}
	return moves
}
