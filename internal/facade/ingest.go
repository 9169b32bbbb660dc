package facade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/rerrors"
	"github.com/cortexlocal/recall/internal/store"
)

// AddChunkInput is the ingestion contract's request shape (spec.md §6
// "add_chunk({source_id, content, chunk_index, metadata}) → chunk_id").
type AddChunkInput struct {
	SourceID   string
	Content    string
	ChunkIndex int
	Metadata   chunkmodel.Metadata
}

// AddChunk computes the chunk's id and content hash, generates its
// embedding, and updates the chunk store plus both indices
// transactionally per chunk (spec.md §6).
func (f *Facade) AddChunk(ctx context.Context, in AddChunkInput) (string, error) {
	if in.SourceID == "" {
		return "", rerrors.InvalidInput("facade:add_chunk", "source_id must not be empty")
	}
	if in.Content == "" {
		return "", rerrors.InvalidInput("facade:add_chunk", "content must not be empty")
	}

	chunk := f.buildChunk(in)

	vec, err := f.embedder.Embed(ctx, chunk.Content)
	if err != nil {
		return "", rerrors.TransientBackend("facade:add_chunk", "embedding failed", err)
	}
	chunk.Embedding = &chunkmodel.Embedding{Vector: vec, ModelID: f.embedder.ModelName()}

	if err := f.chunkStore.SaveChunks(ctx, []*chunkmodel.Chunk{chunk}); err != nil {
		return "", rerrors.Wrap(rerrors.KindIndexCorruption, "facade:add_chunk", err)
	}
	if err := f.vectorIndex.Add(ctx, []string{chunk.ID}, [][]float32{vec}); err != nil {
		return "", rerrors.Wrap(rerrors.KindIndexCorruption, "facade:add_chunk", err)
	}
	if err := f.keywordIndex.Index(ctx, []*store.Document{{ID: chunk.ID, Content: chunk.Content}}); err != nil {
		return "", rerrors.Wrap(rerrors.KindIndexCorruption, "facade:add_chunk", err)
	}

	return chunk.ID, nil
}

// AddChunksBatch ingests many chunks, embedding them in one batch call
// when the embedder supports it and updating both indices in bulk. A
// per-chunk failure aborts the whole batch rather than leaving the
// indices partially updated for this call (the chunk store's SaveChunks
// call below is the only point of no return).
func (f *Facade) AddChunksBatch(ctx context.Context, inputs []AddChunkInput) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	chunks := make([]*chunkmodel.Chunk, len(inputs))
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		if in.SourceID == "" || in.Content == "" {
			return nil, rerrors.InvalidInput("facade:add_chunks_batch", "source_id and content must not be empty")
		}
		chunks[i] = f.buildChunk(in)
		texts[i] = chunks[i].Content
	}

	vecs, err := f.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, rerrors.TransientBackend("facade:add_chunks_batch", "batch embedding failed", err)
	}
	if len(vecs) != len(chunks) {
		return nil, rerrors.TransientBackend("facade:add_chunks_batch", fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)), nil)
	}

	ids := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		c.Embedding = &chunkmodel.Embedding{Vector: vecs[i], ModelID: f.embedder.ModelName()}
		ids[i] = c.ID
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	if err := f.chunkStore.SaveChunks(ctx, chunks); err != nil {
		return nil, rerrors.Wrap(rerrors.KindIndexCorruption, "facade:add_chunks_batch", err)
	}
	if err := f.vectorIndex.Add(ctx, ids, vecs); err != nil {
		return nil, rerrors.Wrap(rerrors.KindIndexCorruption, "facade:add_chunks_batch", err)
	}
	if err := f.keywordIndex.Index(ctx, docs); err != nil {
		return nil, rerrors.Wrap(rerrors.KindIndexCorruption, "facade:add_chunks_batch", err)
	}

	return ids, nil
}

// IngestChunks ingests chunks a caller has already built directly —
// the ingestion contract's transactional embed-then-index sequence
// (spec.md §6), but for callers that already have a chunkmodel.Chunk
// with its own id/content-hash scheme, such as cmd/recall's index
// command feeding chunk.ToChunkModels output from the markdown
// chunker. AddChunksBatch stays the path for callers that
// want the façade to assign the id (sha256 of source+index).
func (f *Facade) IngestChunks(ctx context.Context, chunks []*chunkmodel.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if c.ID == "" || c.Content == "" {
			return nil, rerrors.InvalidInput("facade:ingest_chunks", "chunk id and content must not be empty")
		}
		texts[i] = c.Content
	}

	vecs, err := f.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, rerrors.TransientBackend("facade:ingest_chunks", "batch embedding failed", err)
	}
	if len(vecs) != len(chunks) {
		return nil, rerrors.TransientBackend("facade:ingest_chunks", fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks)), nil)
	}

	ids := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		c.Embedding = &chunkmodel.Embedding{Vector: vecs[i], ModelID: f.embedder.ModelName()}
		ids[i] = c.ID
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	if err := f.chunkStore.SaveChunks(ctx, chunks); err != nil {
		return nil, rerrors.Wrap(rerrors.KindIndexCorruption, "facade:ingest_chunks", err)
	}
	if err := f.vectorIndex.Add(ctx, ids, vecs); err != nil {
		return nil, rerrors.Wrap(rerrors.KindIndexCorruption, "facade:ingest_chunks", err)
	}
	if err := f.keywordIndex.Index(ctx, docs); err != nil {
		return nil, rerrors.Wrap(rerrors.KindIndexCorruption, "facade:ingest_chunks", err)
	}

	return ids, nil
}

// RemoveSource cascades a source's removal across the chunk store and
// both indices (spec.md §6 "remove_source(source_id) cascades").
func (f *Facade) RemoveSource(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return rerrors.InvalidInput("facade:remove_source", "source_id must not be empty")
	}

	chunks, err := f.chunkStore.GetChunksBySource(ctx, sourceID)
	if err != nil {
		return rerrors.Wrap(rerrors.KindTransientBackend, "facade:remove_source", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	if err := f.vectorIndex.Delete(ctx, ids); err != nil {
		return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:remove_source", err)
	}
	if err := f.keywordIndex.Delete(ctx, ids); err != nil {
		return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:remove_source", err)
	}
	if err := f.chunkStore.DeleteChunksBySource(ctx, sourceID); err != nil {
		return rerrors.Wrap(rerrors.KindIndexCorruption, "facade:remove_source", err)
	}
	f.maybeCompact(ctx)
	return nil
}

// buildChunk derives a stable id (spec.md "typically sha256(SourceID +
// ChunkIndex)") and content hash for one ingestion input.
func (f *Facade) buildChunk(in AddChunkInput) *chunkmodel.Chunk {
	idSum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", in.SourceID, in.ChunkIndex)))
	contentSum := sha256.Sum256([]byte(in.Content))
	meta := in.Metadata
	meta.HasCode = meta.HasCode || looksLikeCode(in.Content)

	return &chunkmodel.Chunk{
		ID:          hex.EncodeToString(idSum[:]),
		Content:     in.Content,
		SourceID:    in.SourceID,
		ChunkIndex:  in.ChunkIndex,
		ContentHash: hex.EncodeToString(contentSum[:]),
		ContentType: chunkmodel.ContentTypeText,
		Meta:        meta,
	}
}

// looksLikeCode is a light heuristic used only when the caller's
// metadata doesn't already say so: a high density of brace/semicolon
// characters. A fenced code block alone does not count.
func looksLikeCode(content string) bool {
	braces := 0
	for _, r := range content {
		if r == '{' || r == '}' || r == ';' {
			braces++
		}
	}
	return braces > len(content)/40 && braces > 3
}
