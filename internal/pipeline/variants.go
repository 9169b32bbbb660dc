package pipeline

import (
	"fmt"
	"strings"
)

// querySynonyms is a small general-vocabulary synonym table, the
// query-rewriting analogue of the teacher's code-vocabulary
// search/synonyms.go dictionary, generalized from code terms to
// everyday nouns/verbs since this pipeline searches personal notes,
// not source code.
var querySynonyms = map[string]string{
	"make":   "create",
	"create": "make",
	"delete": "remove",
	"remove": "delete",
	"fix":    "repair",
	"start":  "begin",
	"stop":   "end",
	"show":   "display",
}

// generateQueryVariants produces 2-3 query rewrites per spec.md §4.7
// "Semantic expansion": a pluralized/singularized form, a synonym swap
// when the table has a hit, and a "what is X?"/"how to X?" framing.
func generateQueryVariants(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	variants := make([]string, 0, 3)

	if plural := pluralize(query); plural != query {
		variants = append(variants, plural)
	}

	if syn := synonymSwap(query); syn != query {
		variants = append(variants, syn)
	}

	if isQuestionLike(query) {
		variants = append(variants, fmt.Sprintf("how to %s", query))
	} else {
		variants = append(variants, fmt.Sprintf("what is %s?", query))
	}

	return variants
}

func pluralize(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return query
	}
	last := words[len(words)-1]
	switch {
	case strings.HasSuffix(last, "s"):
		words[len(words)-1] = strings.TrimSuffix(last, "s")
	case strings.HasSuffix(last, "y") && len(last) > 1:
		words[len(words)-1] = last[:len(last)-1] + "ies"
	default:
		words[len(words)-1] = last + "s"
	}
	return strings.Join(words, " ")
}

func synonymSwap(query string) string {
	words := strings.Fields(query)
	changed := false
	for i, w := range words {
		if syn, ok := querySynonyms[strings.ToLower(w)]; ok {
			words[i] = syn
			changed = true
		}
	}
	if !changed {
		return query
	}
	return strings.Join(words, " ")
}

func isQuestionLike(query string) bool {
	lower := strings.ToLower(query)
	return strings.HasPrefix(lower, "what") || strings.HasPrefix(lower, "how") ||
		strings.HasPrefix(lower, "why") || strings.HasSuffix(query, "?")
}
