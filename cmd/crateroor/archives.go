package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/crateroor/pkg/discovery"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

var archivesChannel string

var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List the toolchain archive dates known to discovery",
	RunE:  runArchives,
}

func init() {
	rootCmd.AddCommand(archivesCmd)
	archivesCmd.Flags().StringVar(&archivesChannel, "channel", "",
		"Only list this channel (stable, beta, nightly)")
}

func runArchives(cmd *cobra.Command, _ []string) error {
	channels := toolchain.Channels

	if archivesChannel != "" {
		ch, err := toolchain.ParseChannel(archivesChannel)
		if err != nil {
			return fmt.Errorf("invalid --channel: %w", err)
		}

		channels = []toolchain.Channel{ch}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	disc, err := discovery.New(log, &cfg.Discovery)
	if err != nil {
		return fmt.Errorf("creating toolchain discovery: %w", err)
	}

	available, err := disc.AvailableToolchains(cmd.Context())
	if err != nil {
		return fmt.Errorf("discovering toolchains: %w", err)
	}

	for _, ch := range channels {
		for _, d := range available.Dates(ch) {
			fmt.Println(toolchain.New(ch, &d))
		}
	}

	return nil
}
