package contextual

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexlocal/recall/internal/rerrors"
)

// MaxPromptLength bounds the filled-template prompt sent to the
// generative backend (spec.md §4.6 "Maximum prompt length is bounded").
const MaxPromptLength = 4000

// generativeConfidenceCeiling is the ceiling applied when the LLM path
// succeeds; unlike the pattern path it isn't capped below 1.0, since a
// real generative rewrite can legitimately earn full confidence.
const generativeConfidenceCeiling = 1.0

const (
	expandTemplate = `Rewrite the following %s to include related concepts and keywords that would help retrieve it for the stated intent. Output only the rewritten text, no preamble.

Text: %s
Intent: %s
Previous queries: %s

Rewritten:`

	summarizeTemplate = `Compress the following %s to its most salient terms, dropping filler words. Output only the compressed text, no preamble.

Text: %s

Compressed:`

	hybridTemplate = `Rewrite the following %s: first compress it to its salient terms, then append related concepts and keywords relevant to the stated intent. Output only the rewritten text, no preamble.

Text: %s
Intent: %s

Rewritten:`
)

// GenerativeEnhancer rewrites text via a chat-completion model, filling
// one of three deterministic prompt templates depending on Strategy.
// Grounded on the teacher's Ollama `/api/generate` prompt-template idiom
// (index/contextual_llm.go), adapted to go-openai's chat-completion
// transport so the remote "generative backend" diversifies beyond
// Ollama-only per DESIGN.md.
type GenerativeEnhancer struct {
	client  *openai.Client
	model   string
	breaker *rerrors.CircuitBreaker
}

// NewGenerativeEnhancer constructs an enhancer against an OpenAI-
// compatible chat-completion endpoint. baseURL may point at a local
// proxy (Ollama's OpenAI-compatible `/v1` route) or a remote API.
func NewGenerativeEnhancer(apiKey, baseURL, model string) *GenerativeEnhancer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GenerativeEnhancer{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		breaker: rerrors.NewCircuitBreaker("contextual:generative"),
	}
}

func (g *GenerativeEnhancer) Available(context.Context) bool {
	return g.breaker.State() != rerrors.BreakerOpen
}

// Generate fills the strategy's prompt template and issues one
// chat-completion call behind a circuit breaker: repeated failures trip
// it open for a reset window instead of retrying a backend that's
// clearly down on every call (spec.md §4.6 "Degradation", grounded on
// internal/rerrors/circuit.go's closed/open/half-open machine) — the
// caller (Enhancer) falls back to PatternEnhancer itself, so Generate
// never needs a local fallback path.
func (g *GenerativeEnhancer) Generate(ctx context.Context, text string, strategy Strategy, docCtx DocumentContext) (string, float64, error) {
	prompt := truncateAtSentence(buildPrompt(text, strategy, docCtx), MaxPromptLength)

	var content string
	err := g.breaker.Execute(func() error {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return fmt.Errorf("contextual: generative enhancement failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("contextual: generative backend returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(content), generativeConfidenceCeiling, nil
}

func buildPrompt(text string, strategy Strategy, docCtx DocumentContext) string {
	docType := docCtx.DocumentType
	if docType == "" {
		docType = "text"
	}
	switch strategy {
	case StrategySummarize:
		return fmt.Sprintf(summarizeTemplate, docType, text)
	case StrategyHybrid:
		return fmt.Sprintf(hybridTemplate, docType, text, docCtx.UserIntent)
	default: // StrategyExpand
		return fmt.Sprintf(expandTemplate, docType, text, docCtx.UserIntent, strings.Join(docCtx.PreviousQueries, "; "))
	}
}

var _ Generator = (*GenerativeEnhancer)(nil)
