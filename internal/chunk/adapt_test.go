package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToChunkModel_ComputesHashAndHasCode(t *testing.T) {
	c := &Chunk{
		ID:          "x1",
		Content:     "```go\nfunc Foo() {}\n```",
		ContentType: ContentTypeMarkdown,
		Language:    "go",
		Metadata:    map[string]string{"has_code": "true"},
	}

	m := ToChunkModel(c, "source-1", 2)

	require.Equal(t, "source-1", m.SourceID)
	require.Equal(t, 2, m.ChunkIndex)
	require.NotEmpty(t, m.ContentHash)
	require.True(t, m.Meta.HasCode)
	require.Equal(t, "go", m.Meta.Language)
}

func TestToChunkModels_PreservesOrder(t *testing.T) {
	chunks := []*Chunk{
		{ID: "a", Content: "first"},
		{ID: "b", Content: "second"},
	}

	models := ToChunkModels(chunks, "doc")
	require.Len(t, models, 2)
	require.Equal(t, 0, models[0].ChunkIndex)
	require.Equal(t, 1, models[1].ChunkIndex)
}
