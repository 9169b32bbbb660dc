package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexlocal/recall/internal/rerrors"
)

// DefaultOpenAIModel is the embedding model used when none is given.
const DefaultOpenAIModel = "text-embedding-3-small"

// openAIModelDimensions maps known OpenAI embedding models to their
// fixed output dimension; dimension mismatches are caught at the vector
// index (store.ErrDimensionMismatch), so getting this wrong for an
// unlisted/custom model just surfaces there instead of silently.
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures RemoteEmbedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // non-empty points at an OpenAI-compatible proxy instead of api.openai.com
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns the zero-value-safe defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{Model: DefaultOpenAIModel, Timeout: DefaultWarmTimeout}
}

// RemoteEmbedder is C1's "(b) remote embedding API" backend (spec.md
// §4.1): an OpenAI-compatible `/v1/embeddings` endpoint, reached via
// go-openai the same way internal/contextual's GenerativeEnhancer
// reaches its chat-completion endpoint. A CircuitBreaker wraps every
// call so a backend that is clearly down stops eating the retry budget
// (spec.md §7's TransientBackendError retry loop, grounded on
// internal/rerrors/circuit.go) rather than timing out on every request.
type RemoteEmbedder struct {
	client  *openai.Client
	model   string
	baseURL string
	timeout time.Duration
	breaker *rerrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder constructs a RemoteEmbedder against cfg. An empty
// BaseURL targets OpenAI itself; non-empty points at a compatible proxy
// (e.g. Ollama's own `/v1` route, letting a single backend type serve
// either transport).
func NewRemoteEmbedder(cfg OpenAIConfig) *RemoteEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmTimeout
	}
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	return &RemoteEmbedder{
		client:  openai.NewClientWithConfig(oaCfg),
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		breaker: rerrors.NewCircuitBreaker("embed:remote"),
	}
}

// Embed generates a single embedding.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request,
// behind the circuit breaker.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	client := e.client
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embed: remote embedder is closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out [][]float32
	err := e.breaker.Execute(func() error {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return err
		}
		out = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = d.Embedding
		}
		return nil
	})
	if err != nil {
		if err == rerrors.ErrCircuitOpen {
			return nil, rerrors.TransientBackend("embed:remote", "circuit breaker open", err)
		}
		return nil, rerrors.TransientBackend("embed:remote", "embeddings request failed", err)
	}
	return out, nil
}

// Dimensions reports the configured model's output dimension, falling
// back to DefaultDimensions for a model this package doesn't recognize.
func (e *RemoteEmbedder) Dimensions() int {
	if d, ok := openAIModelDimensions[e.model]; ok {
		return d
	}
	return DefaultDimensions
}

// ModelName returns the configured model identifier.
func (e *RemoteEmbedder) ModelName() string {
	return e.model
}

// Available probes the breaker state rather than making a network call;
// an open breaker means the backend is known-down until its reset
// timeout elapses.
func (e *RemoteEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.breaker.State() != rerrors.BreakerOpen
}

// SetAPIKey rebuilds the underlying client against a rotated credential,
// keeping the configured model, base URL, and timeout. Safe to call
// concurrently with Embed/EmbedBatch.
func (e *RemoteEmbedder) SetAPIKey(apiKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	oaCfg := openai.DefaultConfig(apiKey)
	if e.baseURL != "" {
		oaCfg.BaseURL = e.baseURL
	}
	e.client = openai.NewClientWithConfig(oaCfg)
}

// SetBatchIndex is a no-op for the remote embedder (no thermal management needed).
func (e *RemoteEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op for the remote embedder (no thermal management needed).
func (e *RemoteEmbedder) SetFinalBatch(_ bool) {}

// Close marks the embedder unusable; the underlying HTTP client has no
// explicit teardown.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
