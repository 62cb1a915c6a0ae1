package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/roster/internal/mcptools"
	"github.com/spf13/cobra"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the user tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, cleanup, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			server := mcptools.NewUserMCPServer(mcptools.NewUserService(store, logger))
			return mcptools.RunMCPServerStdio(ctx, server)
		},
	}
}
