package rerank

// Combine implements spec.md §4.5's combination rule as a pure
// function so it can be unit-tested independently of any model
// backend: final = 0.3*original + 0.7*reranker, with a 10%
// multiplicative boost when reranker > 0.8, clamped to 1.0.
func Combine(originalScore, rerankerScore float64) float64 {
	final := 0.3*originalScore + 0.7*rerankerScore
	if rerankerScore > 0.8 {
		final *= 1.1
	}
	if final > 1.0 {
		final = 1.0
	}
	if final < 0 {
		final = 0
	}
	return final
}
