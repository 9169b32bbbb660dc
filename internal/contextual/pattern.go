package contextual

import (
	"context"
	"fmt"
	"strings"
)

// synonymTable is the small static synonym table spec.md §4.6 names for
// the degraded "simple enhancement" path — just enough to bridge the
// most common vocabulary gaps without a generative model.
var synonymTable = map[string][]string{
	"open":     {"access", "read"},
	"file":     {"document"},
	"delete":   {"remove"},
	"search":   {"find", "query"},
	"create":   {"make", "add"},
	"config":   {"configuration", "settings"},
	"error":    {"failure", "exception"},
	"function": {"method", "routine"},
}

// patternConfidenceCeiling caps the degraded path's confidence at 0.7
// per spec.md §4.6 "confidence ≤ 0.7".
const patternConfidenceCeiling = 0.7

// PatternEnhancer is the degradation path used when a generative
// backend is unavailable: prepend document type, append user intent,
// inject synonyms for any recognized term (spec.md §4.6).
type PatternEnhancer struct{}

func (PatternEnhancer) Generate(_ context.Context, text string, strategy Strategy, docCtx DocumentContext) (string, float64, error) {
	var b strings.Builder

	if docCtx.DocumentType != "" {
		fmt.Fprintf(&b, "[%s] ", docCtx.DocumentType)
	}
	b.WriteString(text)

	if synonyms := collectSynonyms(text, strategy); synonyms != "" {
		b.WriteString(" ")
		b.WriteString(synonyms)
	}

	if docCtx.UserIntent != "" {
		fmt.Fprintf(&b, " Intent: %s", docCtx.UserIntent)
	}

	return b.String(), patternConfidenceCeiling, nil
}

func (PatternEnhancer) Available(context.Context) bool { return true }

// collectSynonyms scans text's tokens for recognized terms and emits
// their synonyms. For the summarize strategy, synonyms are omitted —
// summarize compresses, it doesn't expand vocabulary.
func collectSynonyms(text string, strategy Strategy) string {
	if strategy == StrategySummarize {
		return ""
	}
	words := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool)
	var found []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:")
		if syns, ok := synonymTable[w]; ok && !seen[w] {
			seen[w] = true
			found = append(found, syns...)
		}
	}
	if len(found) == 0 {
		return ""
	}
	return "(" + strings.Join(found, ", ") + ")"
}

var _ Generator = PatternEnhancer{}
