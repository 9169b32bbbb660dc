package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeyword struct {
	results []*store.BM25Result
	calls   int
}

func (f *fakeKeyword) Search(_ context.Context, _ string, limit int) ([]*store.BM25Result, error) {
	f.calls++
	out := f.results
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeVector struct {
	results []*store.VectorResult
	calls   int
}

func (f *fakeVector) Search(_ context.Context, _ []float32, k int) ([]*store.VectorResult, error) {
	f.calls++
	out := f.results
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0, 0}, nil }
func (fakeEmbedder) ModelName() string                                { return "fake" }

type fakeChunkStore struct {
	chunks map[string]*chunkmodel.Chunk
}

func (f *fakeChunkStore) GetChunk(_ context.Context, id string) (*chunkmodel.Chunk, error) {
	return f.chunks[id], nil
}

func (f *fakeChunkStore) GetChunks(_ context.Context, ids []string) ([]*chunkmodel.Chunk, error) {
	out := make([]*chunkmodel.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) GetChunksBySource(_ context.Context, sourceID string) ([]*chunkmodel.Chunk, error) {
	var out []*chunkmodel.Chunk
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func newFakeDeps() (*Deps, *fakeKeyword, *fakeVector, *fakeChunkStore) {
	chunks := map[string]*chunkmodel.Chunk{
		"c1": {ID: "c1", Content: "the quick brown fox", SourceID: "doc1", ChunkIndex: 0},
		"c2": {ID: "c2", Content: "lorem ipsum dolor", SourceID: "doc2", ChunkIndex: 0},
		"c3": {ID: "c3", Content: "a quick red fox", SourceID: "doc1", ChunkIndex: 1},
	}
	kw := &fakeKeyword{results: []*store.BM25Result{
		{DocID: "c1", Score: 2.0, MatchedTerms: []string{"quick", "fox"}},
		{DocID: "c2", Score: 1.0},
	}}
	vec := &fakeVector{results: []*store.VectorResult{
		{ID: "c3", Score: 0.9},
		{ID: "c1", Score: 0.8},
	}}
	cstore := &fakeChunkStore{chunks: chunks}
	return &Deps{
		Keyword:    kw,
		Vector:     vec,
		Embedder:   fakeEmbedder{},
		ChunkStore: cstore,
	}, kw, vec, cstore
}

func TestMergeInto_DedupKeepsMaxScoreAndUnionsSubscores(t *testing.T) {
	cs := &CandidateSet{}
	mergeInto(cs, []Candidate{
		{SearchResult: chunkmodel.SearchResult{ChunkID: "a", Score: 0.5}, KeywordScore: 0.5},
	})
	mergeInto(cs, []Candidate{
		{SearchResult: chunkmodel.SearchResult{ChunkID: "a", Score: 0.9}, VectorScore: 0.9},
	})

	require.Len(t, cs.Candidates, 1)
	assert.Equal(t, 0.9, cs.Candidates[0].Score)
	assert.Equal(t, 0.5, cs.Candidates[0].KeywordScore)
	assert.Equal(t, 0.9, cs.Candidates[0].VectorScore)
}

func TestCombineStrategyScores_BlendsBothAndRanksKeywordOnly(t *testing.T) {
	cs := &CandidateSet{Candidates: []Candidate{
		{SearchResult: chunkmodel.SearchResult{ChunkID: "both"}, KeywordScore: 0.5, VectorScore: 1.0},
		{SearchResult: chunkmodel.SearchResult{ChunkID: "kwOnlyHigh"}, KeywordScore: 0.9},
		{SearchResult: chunkmodel.SearchResult{ChunkID: "kwOnlyLow"}, KeywordScore: 0.1},
	}}

	combineStrategyScores(cs, chunkmodel.StrategyHybrid)

	for _, c := range cs.Candidates {
		switch c.ChunkID {
		case "both":
			assert.InDelta(t, 0.7*1.0+0.3*0.5, c.Score, 1e-9)
			assert.Equal(t, chunkmodel.StrategyHybrid, c.Strategy)
		case "kwOnlyHigh":
			assert.Equal(t, 1.0, c.Score, "top-ranked keyword-only candidate gets rank score 1-0/N")
		case "kwOnlyLow":
			assert.Less(t, c.Score, 1.0)
		}
	}
}

func TestStageBroadRetrieval_TokenizesAndMerges(t *testing.T) {
	deps, kw, _, _ := newFakeDeps()
	cs := &CandidateSet{}
	cfg := chunkmodel.StageConfig{Name: "broad_retrieval"}

	out, err := stageBroadRetrieval(context.Background(), "a quick fox", 10, cs, cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, kw.calls)
	require.Len(t, out.Candidates, 2)
	for _, c := range out.Candidates {
		assert.Equal(t, chunkmodel.StrategyKeyword, c.Strategy)
		assert.Equal(t, broadRetrievalFloorScore, c.Score)
	}
}

func TestStageVectorSearch_TagsSemanticAndSetsVectorScore(t *testing.T) {
	deps, _, vec, _ := newFakeDeps()
	cs := &CandidateSet{}
	cfg := chunkmodel.StageConfig{Name: "vector_search"}

	out, err := stageVectorSearch(context.Background(), "quick fox", 10, cs, cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, vec.calls)
	require.Len(t, out.Candidates, 2)
	for _, c := range out.Candidates {
		assert.Equal(t, chunkmodel.StrategySemantic, c.Strategy)
		assert.Greater(t, c.VectorScore, 0.0)
	}
}

func TestStageHybridMerge_EndToEnd(t *testing.T) {
	deps, _, _, _ := newFakeDeps()
	cs := &CandidateSet{}

	cs, err := stageBroadRetrieval(context.Background(), "quick fox", 10, cs, chunkmodel.StageConfig{}, deps)
	require.NoError(t, err)
	cs, err = stageVectorSearch(context.Background(), "quick fox", 10, cs, chunkmodel.StageConfig{}, deps)
	require.NoError(t, err)
	cs, err = stageHybridMerge(context.Background(), "quick fox", 10, cs, chunkmodel.StageConfig{}, deps)
	require.NoError(t, err)

	// c1 appears in both lists, c2 keyword-only, c3 vector-only.
	require.Len(t, cs.Candidates, 3)
	var c1Score float64
	for _, c := range cs.Candidates {
		if c.ChunkID == "c1" {
			c1Score = c.Score
			assert.Equal(t, chunkmodel.StrategyHybrid, c.Strategy)
		}
	}
	assert.Greater(t, c1Score, 0.0)
}

func TestStageHeuristicRerank_BoostsExactAndTitleMatches(t *testing.T) {
	cs := &CandidateSet{Candidates: []Candidate{
		{SearchResult: chunkmodel.SearchResult{ChunkID: "a", Content: "quick brown fox", Score: 0.5}},
		{SearchResult: chunkmodel.SearchResult{ChunkID: "b", Content: "unrelated text", Score: 0.5}},
	}}

	out, err := stageHeuristicRerank(context.Background(), "quick brown fox", 10, cs, chunkmodel.StageConfig{}, &Deps{})
	require.NoError(t, err)
	assert.Greater(t, out.Candidates[0].Score, out.Candidates[1].Score)
	assert.Equal(t, "a", out.Candidates[0].ChunkID)
}

func TestStageFinalScoring_ClampsAndAppliesConfidence(t *testing.T) {
	cs := &CandidateSet{Candidates: []Candidate{
		{SearchResult: chunkmodel.SearchResult{ChunkID: "over", Score: 1.5, Strategy: chunkmodel.StrategyHybrid}},
		{SearchResult: chunkmodel.SearchResult{ChunkID: "under", Score: -0.5}},
	}}

	out, err := stageFinalScoring(context.Background(), "q", 10, cs, chunkmodel.StageConfig{}, &Deps{})
	require.NoError(t, err)
	for _, c := range out.Candidates {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestEarlyTerminate_StopsAtTwiceLimit(t *testing.T) {
	candidates := make([]Candidate, 10)
	for i := range candidates {
		candidates[i] = Candidate{SearchResult: chunkmodel.SearchResult{Score: 0.9}}
	}
	assert.True(t, earlyTerminate(candidates, 0.5, 5))
	assert.False(t, earlyTerminate(candidates, 0.5, 6))
}

func TestPipeline_Run_FastProfile_ReturnsRankedResults(t *testing.T) {
	deps, _, _, _ := newFakeDeps()
	p := New(FastProfile, deps)

	results, metrics := p.Run(context.Background(), Request{
		Query: "quick fox", Limit: 3, MaxLatency: time.Second,
	})

	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	assert.NotEmpty(t, metrics.Stages)
	assert.Equal(t, len(results), metrics.FinalResultCount)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

type hangingKeyword struct{}

func (hangingKeyword) Search(ctx context.Context, _ string, _ int) ([]*store.BM25Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipeline_Run_ReturnsEmptyWhenStageNeverReturns(t *testing.T) {
	deps := &Deps{Keyword: hangingKeyword{}}
	p := New(chunkmodel.PipelineProfile{
		Name: "slow",
		Stages: []chunkmodel.StageConfig{
			{Name: "broad_retrieval", Enabled: true, Multiplier: 1, Timeout: 10 * time.Millisecond},
			{Name: "final_scoring", Enabled: true, Multiplier: 1},
		},
	}, deps)

	results, _ := p.Run(context.Background(), Request{Query: "x", Limit: 5, MaxLatency: 30 * time.Millisecond})
	assert.Empty(t, results)
}

func TestProfileByName_DefaultsToBalancedForUnknownName(t *testing.T) {
	assert.Equal(t, BalancedProfile, ProfileByName("nonexistent"))
	assert.Equal(t, AccurateProfile, ProfileByName("accurate"))
}
