// Package cache implements the Multi-Tier Cache (C4): bounded in-memory
// LRUs per value class, on-disk persistence of the same entries, and
// semantic near-hit matching for query-class lookups. It is the hardest
// subsystem per spec.md §4.4 — the lookup order, single-flight
// coalescing, and near-hit threshold are all load-bearing correctness
// properties, not just performance tuning.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// TierLimits bounds a single in-memory tier by entry count and by total
// payload bytes, whichever trips first (spec.md §4.4).
type TierLimits struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

// sizer computes the byte size of a tier's payload, so the generic tier
// can track cumulative bytes without knowing the concrete value type.
type sizer[V any] func(V) int64

// tier is a bounded, TTL-aware in-memory LRU for one value class. It
// wraps hashicorp/golang-lru the way embed/cached.go wraps it for a
// single embedding cache, generalized to carry a size function and a
// running byte total so eviction can honor both the count and the byte
// bound (spec.md §4.4 "whichever bound it hits first").
type tier[V any] struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, *chunkmodel.CacheEntry[V]]
	limits    TierLimits
	sizeOf    sizer[V]
	totalSize int64
}

func newTier[V any](limits TierLimits, sizeOf sizer[V]) *tier[V] {
	t := &tier[V]{limits: limits, sizeOf: sizeOf}
	maxEntries := limits.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	l, _ := lru.NewWithEvict(maxEntries, func(_ string, entry *chunkmodel.CacheEntry[V]) {
		t.totalSize -= t.sizeOf(entry.Value)
	})
	t.lru = l
	return t
}

// get returns a live (non-expired) entry and bumps its recency/hit
// counters, or reports a miss.
func (t *tier[V]) get(key string) (*chunkmodel.CacheEntry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.lru.Get(key)
	if !ok {
		return nil, false
	}
	if t.limits.TTL > 0 && time.Since(entry.CreatedAt) > t.limits.TTL {
		t.lru.Remove(key)
		return nil, false
	}
	entry.HitCount++
	entry.LastAccessed = time.Now()
	return entry, true
}

// put inserts or overwrites an entry, then evicts by byte budget until
// the tier is back under MaxBytes (count eviction is handled by the
// underlying LRU's fixed capacity).
func (t *tier[V]) put(entry *chunkmodel.CacheEntry[V]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.lru.Peek(entry.Key); ok {
		t.totalSize -= t.sizeOf(old.Value)
	}
	t.totalSize += t.sizeOf(entry.Value)
	t.lru.Add(entry.Key, entry)

	for t.limits.MaxBytes > 0 && t.totalSize > t.limits.MaxBytes && t.lru.Len() > 0 {
		// The eviction callback subtracts the removed entry's size.
		if _, _, ok := t.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// remove deletes a key if present.
func (t *tier[V]) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Remove(key)
}

// clear empties the tier, resetting the byte total.
func (t *tier[V]) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
	t.totalSize = 0
}

// entries returns a snapshot of all live, non-expired entries. Used by
// the near-hit scanner, which must look across every cached query.
func (t *tier[V]) entries() []*chunkmodel.CacheEntry[V] {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*chunkmodel.CacheEntry[V], 0, t.lru.Len())
	now := time.Now()
	for _, key := range t.lru.Keys() {
		entry, ok := t.lru.Peek(key)
		if !ok {
			continue
		}
		if t.limits.TTL > 0 && now.Sub(entry.CreatedAt) > t.limits.TTL {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (t *tier[V]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
