package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of Cache's counters (spec.md §4.4
// "statistics"), returned by value so callers can't mutate live state.
type Stats struct {
	MemoryHits   int64
	MemoryMisses int64
	DiskHits     int64
	DiskMisses   int64
	SemanticHits int64
	TotalQueries int64
}

// counters holds the live atomic fields. A value copy isn't safe to
// read consistently field-by-field under concurrent writers, so Snapshot
// loads each field atomically and assembles a Stats value — the same
// idiom telemetry.QueryMetrics uses for its accumulators.
type counters struct {
	memoryHits   atomic.Int64
	memoryMisses atomic.Int64
	diskHits     atomic.Int64
	diskMisses   atomic.Int64
	semanticHits atomic.Int64
	totalQueries atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		MemoryHits:   c.memoryHits.Load(),
		MemoryMisses: c.memoryMisses.Load(),
		DiskHits:     c.diskHits.Load(),
		DiskMisses:   c.diskMisses.Load(),
		SemanticHits: c.semanticHits.Load(),
		TotalQueries: c.totalQueries.Load(),
	}
}

func (c *counters) reset() {
	c.memoryHits.Store(0)
	c.memoryMisses.Store(0)
	c.diskHits.Store(0)
	c.diskMisses.Store(0)
	c.semanticHits.Store(0)
	c.totalQueries.Store(0)
}
