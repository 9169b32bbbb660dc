package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/output"
)

func newPrecomputeCmd() *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "precompute-embeddings",
		Short: "Embed every chunk still missing a vector",
		Long: `Batch-embeds chunks ingested without a vector (e.g. from "recall index"
runs against a remote embedder that was briefly unavailable). Runs on its
own goroutine behind a data-directory lock file, the same mechanism a
concurrent "recall search" in another terminal relies on to never block
behind it. This process still waits for the job to finish before it
exits, since nothing here holds the data directory open afterward;
--background only suppresses the progress bar.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrecompute(cmd, background)
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "suppress the progress bar; still waits for the job to finish")
	return cmd
}

func runPrecompute(cmd *cobra.Command, background bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	f, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	indexer := f.PrecomputeEmbeddingsAsync(ctx)

	if !background {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
	pollLoop:
		for {
			select {
			case <-ticker.C:
				snap := indexer.Progress().Snapshot()
				out.Progress(snap.ChunksIndexed, snap.ChunksTotal, snap.Stage)
				if !indexer.IsRunning() {
					break pollLoop
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		out.ProgressDone()
	}

	if err := indexer.Wait(); err != nil {
		return err
	}
	out.Success("precompute complete")
	return nil
}
