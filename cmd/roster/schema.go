package main

import (
	"fmt"

	"github.com/dusk-indust/roster/internal/userstore"
	"github.com/spf13/cobra"
)

func newInitSchemaCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the tables, indexes or keys the configured store needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			// Open applies the schema.
			backend, err := userstore.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer backend.Close()

			logger.Debug("schema applied", "driver", cfg.Store.Driver)
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.Store.Driver)
			return nil
		},
	}
}
