package cache

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// diskClass names a T2 subdirectory, matching spec.md §6's
// `cache/{embeddings,queries,documents}` layout.
type diskClass string

const (
	diskClassEmbeddings diskClass = "embeddings"
	diskClassQueries    diskClass = "queries"
	diskClassDocuments  diskClass = "documents"
)

func classExt(c diskClass) string {
	if c == diskClassEmbeddings {
		return ".bin"
	}
	return ".json"
}

// diskPath returns the content-addressed file path for key within a
// class subdirectory (spec.md §6: `hex(sha256(key))[:16]`).
func diskPath(baseDir string, class diskClass, key string) string {
	return filepath.Join(baseDir, string(class), contentHash(key)+classExt(class))
}

// writeDisk atomically writes data to key's content-addressed path.
// Write failures are the caller's to log-and-ignore (CacheIOError never
// surfaces, spec.md §7).
func writeDisk(baseDir string, class diskClass, key string, data []byte) error {
	dir := filepath.Join(baseDir, string(class))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := diskPath(baseDir, class, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readDisk returns the raw bytes at key's content-addressed path, or
// (nil, false) on any error — a read failure is demoted to a miss, not
// surfaced (spec.md §4.4 failure model).
func readDisk(baseDir string, class diskClass, key string) ([]byte, bool) {
	data, err := os.ReadFile(diskPath(baseDir, class, key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// removeDisk deletes key's content-addressed file, ignoring a missing
// file (already gone is not an error for a clear/evict path).
func removeDisk(baseDir string, class diskClass, key string) {
	_ = os.Remove(diskPath(baseDir, class, key))
}

// encodeEmbedding renders a vector as raw little-endian float32 bytes,
// no header (spec.md §6 "Embedding binary"). The model-id travels with
// the in-memory CacheEntry, not the file — the cache is single-model at
// a time per spec.md §9 Open Question (a), so the configured model is
// reattached on decode.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding parses a raw little-endian float32 array; length is
// inferred from len(data)/4 per spec.md §6.
func decodeEmbedding(data []byte) []float32 {
	n := len(data) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// jsonDoc is the generic disk envelope for query-result and document
// entries, serialized as JSON per spec.md §6.
type jsonDoc[V any] struct {
	Value     V     `json:"value"`
	CreatedAt int64 `json:"created_at_unix"`
	HitCount  int64 `json:"hit_count"`
	Embedding []float32 `json:"embedding,omitempty"`
	ModelID   string    `json:"model_id,omitempty"`
}

func encodeJSON[V any](entry *chunkmodel.CacheEntry[V]) ([]byte, error) {
	doc := jsonDoc[V]{
		Value:     entry.Value,
		CreatedAt: entry.CreatedAt.Unix(),
		HitCount:  entry.HitCount,
	}
	if entry.Embedding != nil {
		doc.Embedding = entry.Embedding.Vector
		doc.ModelID = entry.Embedding.ModelID
	}
	return json.Marshal(doc)
}

func decodeJSON[V any](data []byte) (jsonDoc[V], error) {
	var doc jsonDoc[V]
	err := json.Unmarshal(data, &doc)
	return doc, err
}
