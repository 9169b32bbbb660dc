package pipeline

import "time"

// StageMetric is one stage's contribution to a Run's accumulated
// metrics (spec.md §4.7 "Metrics").
type StageMetric struct {
	Name              string
	Duration          time.Duration
	CandidateCount    int
	AverageConfidence float64
}

// Metrics accumulates the per-Run statistics spec.md §4.7 names: total
// wall time, per-stage time/count/confidence, cache-hit rate, and final
// result count. CacheHitRate is set by the façade's search() wrapper,
// which is the layer that actually touches C4 around a pipeline Run.
type Metrics struct {
	TotalWallTime    time.Duration
	Stages           []StageMetric
	CacheHitRate     float64
	FinalResultCount int
}

func newMetrics() *Metrics {
	return &Metrics{Stages: make([]StageMetric, 0, 8)}
}

func (m *Metrics) recordStage(name string, duration time.Duration, count int, avgConfidence float64) {
	m.Stages = append(m.Stages, StageMetric{
		Name:              name,
		Duration:          duration,
		CandidateCount:    count,
		AverageConfidence: avgConfidence,
	})
}
