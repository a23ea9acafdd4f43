package main

import (
	"github.com/spf13/cobra"

	"github.com/ethpandaops/crateroor/pkg/resultstore"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the result store schema",
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the build results table",
	Long: `Drop the build results table and every recorded result. The table is
recreated empty the next time any command opens the store.`,
	RunE: runSchemaDrop,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaDropCmd)
}

func runSchemaDrop(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), cfg, func(store resultstore.Store) error {
		return store.DropSchema(cmd.Context())
	})
}
