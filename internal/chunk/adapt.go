package chunk

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cortexlocal/recall/internal/chunkmodel"
)

// ToChunkModel converts a chunker-internal Chunk into the canonical
// chunkmodel.Chunk the rest of the retrieval subsystem speaks, computing
// the content hash the ingestion contract requires (spec.md §3, §6) and
// carrying over the title/url/has-code metadata the markdown chunker
// derived from frontmatter and fenced-code detection. sourceID
// identifies the parent document the chunk belongs to; index is its
// position within that source.
func ToChunkModel(c *Chunk, sourceID string, index int) *chunkmodel.Chunk {
	hash := sha256.Sum256([]byte(c.Content))

	return &chunkmodel.Chunk{
		ID:          c.ID,
		Content:     c.Content,
		SourceID:    sourceID,
		ChunkIndex:  index,
		ContentHash: hex.EncodeToString(hash[:]),
		ContentType: chunkmodel.ContentType(c.ContentType),
		Meta: chunkmodel.Metadata{
			Title:     c.Metadata["doc_title"],
			URL:       c.Metadata["doc_url"],
			Language:  c.Language,
			CreatedAt: c.CreatedAt,
			HasCode:   c.Metadata["has_code"] == "true",
		},
	}
}

// ToChunkModels converts a slice in source order, assigning ChunkIndex
// from each chunk's position in the slice.
func ToChunkModels(chunks []*Chunk, sourceID string) []*chunkmodel.Chunk {
	out := make([]*chunkmodel.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = ToChunkModel(c, sourceID, i)
	}
	return out
}
