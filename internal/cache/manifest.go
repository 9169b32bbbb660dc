package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// manifestRecentCap is the number of most-recently-used keys the
// manifest retains for warm-start (spec.md §6 "capped, e.g., 1 000").
const manifestRecentCap = 1000

// manifestEntry records one warm-start candidate.
type manifestEntry struct {
	Key       string    `json:"key"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// manifest is the on-disk `manifest.json` shape from spec.md §6.
type manifest struct {
	Version          int              `json:"version"`
	Timestamp        time.Time        `json:"timestamp"`
	Counts           map[string]int   `json:"counts"`
	RecentEmbeddings []manifestEntry  `json:"recent_embeddings"`
}

// contentHash returns the lowercase hex SHA-256 prefix (16 chars) of key,
// spec.md §6's content-addressed filename convention.
func contentHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func manifestPath(dir string) string {
	return filepath.Join(dir, "manifest.json")
}

// loadManifest reads manifest.json, discarding (not erroring) on a
// corrupt file so warm-start is skipped but the empty-cache behavior is
// preserved (spec.md §4.4 failure model).
func loadManifest(dir string) *manifest {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		return &manifest{Version: 1, Counts: map[string]int{}}
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return &manifest{Version: 1, Counts: map[string]int{}}
	}
	if m.Counts == nil {
		m.Counts = map[string]int{}
	}
	return &m
}

// saveManifest writes manifest.json under an exclusive file lock so a
// concurrent background flush from another process doesn't interleave
// writes (spec.md §6 persistence + §5 gofrs/flock-guarded manifest).
// Write failures are logged by the caller and otherwise ignored —
// CacheIOError never surfaces past the flush loop.
func saveManifest(dir string, m *manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(dir, ".manifest.lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	m.Timestamp = time.Now()
	if len(m.RecentEmbeddings) > manifestRecentCap {
		sort.Slice(m.RecentEmbeddings, func(i, j int) bool {
			return m.RecentEmbeddings[i].Timestamp.After(m.RecentEmbeddings[j].Timestamp)
		})
		m.RecentEmbeddings = m.RecentEmbeddings[:manifestRecentCap]
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := manifestPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, manifestPath(dir))
}

// recordRecent appends (or bumps) a warm-start candidate, trimming to
// the cap.
func (m *manifest) recordRecent(key string) {
	hash := contentHash(key)
	for i := range m.RecentEmbeddings {
		if m.RecentEmbeddings[i].Key == key {
			m.RecentEmbeddings[i].Timestamp = time.Now()
			return
		}
	}
	m.RecentEmbeddings = append(m.RecentEmbeddings, manifestEntry{
		Key: key, Hash: hash, Timestamp: time.Now(),
	})
	if len(m.RecentEmbeddings) > manifestRecentCap {
		m.RecentEmbeddings = m.RecentEmbeddings[len(m.RecentEmbeddings)-manifestRecentCap:]
	}
}
