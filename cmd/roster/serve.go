package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/dusk-indust/roster/internal/mcptools"
	"github.com/dusk-indust/roster/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr, mcpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the users page and JSON API, and optionally MCP over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if mcpAddr != "" {
				cfg.MCPAddr = mcpAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, cleanup, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			secret, err := sessionSecret(cfg, logger)
			if err != nil {
				return err
			}
			srv, err := web.NewServer(store, web.Options{SessionSecret: secret, Logger: logger})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(ctx, cfg.Addr)
			})
			if cfg.MCPAddr != "" {
				server := mcptools.NewUserMCPServer(mcptools.NewUserService(store, logger))
				g.Go(func() error {
					logger.Info("mcp listening", "addr", cfg.MCPAddr)
					return mcptools.RunMCPServer(ctx, server, cfg.MCPAddr)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8080)")
	cmd.Flags().StringVar(&mcpAddr, "mcp-addr", "", "serve MCP over streamable HTTP on this address")
	return cmd
}
