package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/depgraph"
	"github.com/ethpandaops/crateroor/pkg/discovery"
	"github.com/ethpandaops/crateroor/pkg/report"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
	"github.com/ethpandaops/crateroor/pkg/upload"
)

var (
	reportDate    string
	reportFormat  string
	reportOutput  string
	reportPublish bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the weekly regression report",
	Long: `Compare stable against beta and beta against nightly as of --date and
print the weekly report. With --publish the report is also uploaded to the
configured S3 bucket.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportDate, "date", "",
		"Report date as YYYY-MM-DD (default: today, UTC)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown",
		"Output format (json, yaml, markdown)")
	reportCmd.Flags().StringVar(&reportOutput, "output", "",
		"Output file path (default: stdout)")
	reportCmd.Flags().BoolVar(&reportPublish, "publish", false,
		"Upload the report to publish.s3")
}

func runReport(cmd *cobra.Command, _ []string) error {
	switch reportFormat {
	case "json", "yaml", "markdown", "md":
	default:
		return fmt.Errorf("unsupported format %q (json, yaml, markdown)", reportFormat)
	}

	date := toolchain.DateOf(time.Now())

	if reportDate != "" {
		parsed, err := toolchain.ParseDate(reportDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}

		date = parsed
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if reportPublish && !cfg.Publish.S3.Enabled {
		return fmt.Errorf("--publish requires publish.s3.enabled")
	}

	ctx := cmd.Context()

	return withStore(ctx, cfg, func(store resultstore.Store) error {
		builder, err := newReportBuilder(cfg, store)
		if err != nil {
			return err
		}

		rep, err := builder.Build(ctx, date)
		if err != nil {
			return fmt.Errorf("building report: %w", err)
		}

		data, err := encodeReport(rep, reportFormat)
		if err != nil {
			return err
		}

		if err := writeOutput(cfg, reportOutput, data); err != nil {
			return err
		}

		if !reportPublish {
			return nil
		}

		keys, err := upload.NewS3Publisher(log, &cfg.Publish.S3).Publish(ctx, rep)
		if err != nil {
			return fmt.Errorf("publishing report: %w", err)
		}

		log.WithField("keys", keys).Info("Report published")

		return nil
	})
}

// newReportBuilder wires discovery and the dependency graph provider
// around store.
func newReportBuilder(cfg *config.Config, store resultstore.Store) (*report.Builder, error) {
	disc, err := discovery.New(log, &cfg.Discovery)
	if err != nil {
		return nil, fmt.Errorf("creating toolchain discovery: %w", err)
	}

	return report.NewBuilder(log, store, disc,
		depgraph.NewIndexProvider(log, &cfg.Index)), nil
}

func encodeReport(rep *report.WeeklyReport, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}

		return append(data, '\n'), nil
	case "yaml":
		data, err := yaml.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("encoding report: %w", err)
		}

		return data, nil
	case "markdown", "md":
		return []byte(report.RenderMarkdown(rep)), nil
	default:
		return nil, fmt.Errorf("unsupported format %q (json, yaml, markdown)", format)
	}
}
