package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/facade"
	"github.com/cortexlocal/recall/internal/output"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache, query, and index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closer, err := openFacade(ctx)
			if err != nil {
				return err
			}
			defer closer()

			stats := f.GetStatistics()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(cmd, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printStats(cmd *cobra.Command, stats facade.Statistics) {
	out := output.New(cmd.OutOrStdout())
	out.Statusf("", "cache: %d total queries, %d memory hits, %d semantic hits",
		stats.Cache.TotalQueries, stats.Cache.MemoryHits, stats.Cache.SemanticHits)
	out.Statusf("", "vector index: %d entries", stats.VectorCount)
	if stats.Query != nil {
		out.Statusf("", "queries: %d total, %d zero-result", stats.Query.TotalQueries, stats.Query.ZeroResultCount)
	}
	out.Statusf("", "reranker available: %v, enhancer available: %v", stats.RerankerUp, stats.EnhancerUp)
}
