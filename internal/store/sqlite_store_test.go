package store

import (
	"context"
	"testing"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/stretchr/testify/require"
)

func TestSQLiteChunkStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	defer s.Close()

	chunk := &chunkmodel.Chunk{
		ID:          "c1",
		SourceID:    "doc-1",
		ChunkIndex:  0,
		Content:     "hello world",
		ContentHash: "abc123",
		ContentType: chunkmodel.ContentTypeText,
		Meta: chunkmodel.Metadata{
			Title:     "Doc One",
			Language:  "en",
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			HasCode:   true,
		},
		Embedding: &chunkmodel.Embedding{Vector: []float32{0.1, 0.2, 0.3}, ModelID: "test-model"},
	}

	require.NoError(t, s.SaveChunks(ctx, []*chunkmodel.Chunk{chunk}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, chunk.Content, got.Content)
	require.Equal(t, chunk.Meta.Title, got.Meta.Title)
	require.True(t, got.Meta.HasCode)
	require.NotNil(t, got.Embedding)
	require.Equal(t, "test-model", got.Embedding.ModelID)
	require.InDeltaSlice(t, chunk.Embedding.Vector, got.Embedding.Vector, 1e-6)
}

func TestSQLiteChunkStore_GetChunksBySource_Ordered(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	defer s.Close()

	chunks := []*chunkmodel.Chunk{
		{ID: "a", SourceID: "doc", ChunkIndex: 1, Content: "second", ContentHash: "h1", ContentType: chunkmodel.ContentTypeText},
		{ID: "b", SourceID: "doc", ChunkIndex: 0, Content: "first", ContentHash: "h2", ContentType: chunkmodel.ContentTypeText},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	ordered, err := s.GetChunksBySource(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	require.Equal(t, "first", ordered[0].Content)
	require.Equal(t, "second", ordered[1].Content)
}

func TestSQLiteChunkStore_DeleteChunksBySource(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveChunks(ctx, []*chunkmodel.Chunk{
		{ID: "a", SourceID: "doc", ContentHash: "h1", ContentType: chunkmodel.ContentTypeText},
	}))
	require.NoError(t, s.DeleteChunksBySource(ctx, "doc"))

	_, err = s.GetChunk(ctx, "a")
	require.Error(t, err)
}

func TestSQLiteChunkStore_State(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteChunkStore("")
	require.NoError(t, err)
	defer s.Close()

	v, err := s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "fallback-static-v1"))
	v, err = s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	require.Equal(t, "fallback-static-v1", v)
}
