package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/crateroor/pkg/api"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Serve build results, diffs and weekly reports over HTTP until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withStore(ctx, cfg, func(store resultstore.Store) error {
		builder, err := newReportBuilder(cfg, store)
		if err != nil {
			return err
		}

		srv := api.NewServer(log, &cfg.API, store, builder)

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting api server: %w", err)
		}

		<-ctx.Done()
		log.Info("Shutting down API server")

		if err := srv.Stop(); err != nil {
			return fmt.Errorf("stopping api server: %w", err)
		}

		return nil
	})
}
