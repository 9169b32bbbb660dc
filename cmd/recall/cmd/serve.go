package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/mcpserver"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Starts a Model Context Protocol server exposing search, simple_search,
hybrid_search, and get_statistics over stdio, for AI coding assistants to
call directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	srv, err := mcpserver.New(f)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
