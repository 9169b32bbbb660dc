// Package mcpserver bridges the Search Façade (C8) to AI coding
// assistants over the Model Context Protocol. Grounded on the teacher's
// internal/mcp/server.go: same go-sdk `mcp.NewServer`/`mcp.AddTool`
// wiring and typed input/output struct idiom, rebuilt against the
// façade's operation set (search/simple_search/hybrid_search/
// get_statistics) instead of the teacher's
// search.SearchEngine.
package mcpserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/facade"
	"github.com/cortexlocal/recall/internal/rerrors"
	"github.com/cortexlocal/recall/pkg/version"
)

// Server is the MCP server fronting one Facade.
type Server struct {
	mcp    *mcp.Server
	facade *facade.Facade
	logger *slog.Logger
}

// New wires a Server's tools against facade. facade.Initialize must have
// already been called.
func New(f *facade.Facade) (*Server, error) {
	if f == nil {
		return nil, errors.New("mcpserver: facade is required")
	}
	s := &Server{
		facade: f,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "recall",
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Query         string  `json:"query" jsonschema:"the search query to execute"`
	Profile       string  `json:"profile,omitempty" jsonschema:"retrieval profile: fast, balanced, accurate, or research"`
	Limit         int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	UseCache      bool    `json:"use_cache,omitempty" jsonschema:"serve cached/near-hit results when available"`
	Rerank        bool    `json:"rerank,omitempty" jsonschema:"apply cross-encoder reranking when the profile supports it"`
	MinConfidence float64 `json:"min_confidence,omitempty" jsonschema:"minimum confidence before early termination kicks in"`
}

// SearchResultOutput is one result row in an MCP tool response.
type SearchResultOutput struct {
	ChunkID     string  `json:"chunk_id"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
	Strategy    string  `json:"strategy"`
	Explanation string  `json:"explanation,omitempty"`
	SourceTitle string  `json:"source_title,omitempty"`
	SourceURL   string  `json:"source_url,omitempty"`
}

// SearchOutput is the search/simple_search/hybrid_search tool's output.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

func toOutput(results []chunkmodel.SearchResult) SearchOutput {
	out := make([]SearchResultOutput, len(results))
	for i, r := range results {
		out[i] = SearchResultOutput{
			ChunkID:     r.ChunkID,
			Content:     r.Content,
			Score:       r.Score,
			Strategy:    string(r.Strategy),
			Explanation: r.Explanation,
			SourceTitle: r.SourceMeta.Title,
			SourceURL:   r.SourceMeta.URL,
		}
	}
	return SearchOutput{Results: out}
}

// StatisticsOutput mirrors facade.Statistics for JSON transport.
type StatisticsOutput struct {
	CacheTotalQueries int64 `json:"cache_total_queries"`
	CacheMemoryHits   int64 `json:"cache_memory_hits"`
	CacheSemanticHits int64 `json:"cache_semantic_hits"`
	QueryTotalQueries int64 `json:"query_total_queries"`
	ZeroResultCount   int64 `json:"zero_result_count"`
	VectorCount       int   `json:"vector_count"`
	RerankerAvailable bool  `json:"reranker_available"`
	EnhancerAvailable bool  `json:"enhancer_available"`
}

func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Runs the full retrieval pipeline (keyword+vector merge, optional rerank and contextual enrichment) against the indexed corpus.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "simple_search",
		Description: "Keyword-only search, bypassing the pipeline entirely. Use for exact-term lookups where ranking nuance doesn't matter.",
	}, s.simpleSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "hybrid_search",
		Description: "Keyword and vector search merged without reranking or enrichment, faster than the full pipeline.",
	}, s.hybridSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_statistics",
		Description: "Reports cache, query, and index statistics for the running server.",
	}, s.statisticsHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, toMCPError(rerrors.InvalidInput("mcpserver:search", "query is required"))
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := s.facade.Search(ctx, input.Query, facade.SearchOptions{
		Profile:       input.Profile,
		Limit:         limit,
		UseCache:      input.UseCache,
		Rerank:        input.Rerank,
		MinConfidence: input.MinConfidence,
	})
	if err != nil {
		return nil, SearchOutput{}, toMCPError(err)
	}
	return nil, toOutput(results), nil
}

// SimpleSearchInput is simple_search's input schema.
type SimpleSearchInput struct {
	Query string `json:"query" jsonschema:"the search query to execute"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

func (s *Server) simpleSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SimpleSearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, toMCPError(rerrors.InvalidInput("mcpserver:simple_search", "query is required"))
	}
	results, err := s.facade.SimpleSearch(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, SearchOutput{}, toMCPError(err)
	}
	return nil, toOutput(results), nil
}

func (s *Server) hybridSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SimpleSearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, toMCPError(rerrors.InvalidInput("mcpserver:hybrid_search", "query is required"))
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := s.facade.HybridSearch(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, toMCPError(err)
	}
	return nil, toOutput(results), nil
}

// EmptyInput is used by tools that take no parameters.
type EmptyInput struct{}

func (s *Server) statisticsHandler(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, StatisticsOutput, error) {
	stats := s.facade.GetStatistics()
	out := StatisticsOutput{
		CacheTotalQueries: stats.Cache.TotalQueries,
		CacheMemoryHits:   stats.Cache.MemoryHits,
		CacheSemanticHits: stats.Cache.SemanticHits,
		VectorCount:       stats.VectorCount,
		RerankerAvailable: stats.RerankerUp,
		EnhancerAvailable: stats.EnhancerUp,
	}
	if stats.Query != nil {
		out.QueryTotalQueries = stats.Query.TotalQueries
		out.ZeroResultCount = stats.Query.ZeroResultCount
	}
	return nil, out, nil
}

// toMCPError maps an InvalidInput RetrievalError to a caller-visible
// error message; every other kind the façade already degrades
// internally, so a non-InvalidInput error here is unexpected and passed
// through unchanged.
func toMCPError(err error) error {
	if rerrors.IsInvalidInput(err) {
		return err
	}
	return err
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}
