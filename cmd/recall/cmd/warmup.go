package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/output"
)

func newWarmupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warmup",
		Short: "Run canned queries to populate caches and model weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closer, err := openFacade(ctx)
			if err != nil {
				return err
			}
			defer closer()

			out := output.New(cmd.OutOrStdout())
			if err := f.Warmup(ctx); err != nil {
				return err
			}
			out.Success("warmup complete")
			return nil
		},
	}
}
