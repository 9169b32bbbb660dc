package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/chunkmodel"
	"github.com/cortexlocal/recall/internal/facade"
	"github.com/cortexlocal/recall/internal/output"
)

type searchOptions struct {
	profile       string
	limit         int
	format        string
	useCache      bool
	rerank        bool
	minConfidence float64
	simple        bool
	hybrid        bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus",
		Long: `Runs the staged retrieval pipeline (keyword+vector merge, optional
cross-encoder reranking and contextual enrichment) against the indexed
corpus, or bypasses it with --simple/--hybrid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "balanced", "retrieval profile: fast, balanced, accurate, research")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json")
	cmd.Flags().BoolVar(&opts.useCache, "cache", true, "serve cached/near-hit results when available")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", true, "apply cross-encoder reranking when the profile supports it")
	cmd.Flags().Float64Var(&opts.minConfidence, "min-confidence", 0.5, "minimum confidence before the early-termination latency guard kicks in")
	cmd.Flags().BoolVar(&opts.simple, "simple", false, "bypass the pipeline, keyword search only")
	cmd.Flags().BoolVar(&opts.hybrid, "hybrid", false, "keyword+vector merge without reranking or enrichment")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()
	f, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var results []chunkmodel.SearchResult
	switch {
	case opts.simple:
		results, err = f.SimpleSearch(ctx, query, opts.limit)
	case opts.hybrid:
		results, err = f.HybridSearch(ctx, query, opts.limit)
	default:
		results, err = f.Search(ctx, query, facade.SearchOptions{
			Profile:       opts.profile,
			Limit:         opts.limit,
			UseCache:      opts.useCache,
			Rerank:        opts.rerank,
			MinConfidence: opts.minConfidence,
		})
	}
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("", "no results")
		return nil
	}
	for i, r := range results {
		title := r.SourceMeta.Title
		if title == "" {
			title = r.ChunkID
		}
		out.Statusf("", "%2d. [%.3f] %s (%s)", i+1, r.Score, title, r.Strategy)
		snippet := r.Content
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		out.Code(strings.TrimSpace(snippet))
	}
	return nil
}
