package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dusk-indust/roster/internal/config"
	"github.com/dusk-indust/roster/internal/events"
	"github.com/dusk-indust/roster/internal/logging"
	"github.com/dusk-indust/roster/internal/userstore"
	"github.com/spf13/cobra"
)

// version is set by goreleaser at build time.
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigDir string
	LogLevel  string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "roster",
		Short:         "User registry with a web page, JSON API and MCP tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.ConfigDir, "config-dir", ".", "directory holding roster.yml and .env")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newServeCmd(&flags),
		newMCPCmd(&flags),
		newInitSchemaCmd(&flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// setup loads configuration and builds the logger for a subcommand.
func setup(cmd *cobra.Command, flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		return nil, nil, err
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	logger, err := logging.NewFromString(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the configured backend and event publisher and returns a
// Store over them with a function that releases both.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*userstore.Store, func(), error) {
	backend, err := userstore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	publisher, closePublisher, err := events.FromConfig(cfg.Events, logger)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	store := userstore.NewStore(backend,
		userstore.WithPublisher(publisher),
		userstore.WithLogger(logger),
	)
	logger.Info("store ready", "driver", cfg.Store.Driver, "events", cfg.Events.AMQPURL != "")

	cleanup := func() {
		if err := closePublisher(); err != nil {
			logger.Warn("close publisher", "err", err)
		}
		if err := backend.Close(); err != nil {
			logger.Warn("close store", "err", err)
		}
	}
	return store, cleanup, nil
}

// sessionSecret returns the configured secret, or a random one that lasts
// for the life of the process.
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	logger.Warn("no session secret configured, flash cookies will not survive a restart")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return secret, nil
}
