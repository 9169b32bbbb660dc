package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/output"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild-indices",
		Short: "Rebuild the vector and keyword indices from the chunk store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closer, err := openFacade(ctx)
			if err != nil {
				return err
			}
			defer closer()

			out := output.New(cmd.OutOrStdout())
			if err := f.RebuildIndices(ctx); err != nil {
				return err
			}
			out.Success("indices rebuilt")
			return nil
		},
	}
	return cmd
}

func newClearCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Empty every cache tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, closer, err := openFacade(ctx)
			if err != nil {
				return err
			}
			defer closer()

			f.ClearCaches()
			output.New(cmd.OutOrStdout()).Success("caches cleared")
			return nil
		},
	}
	return cmd
}
