package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/crateroor/pkg/analysis"
	"github.com/ethpandaops/crateroor/pkg/ingest"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

var (
	resultToolchain string
	resultCrate     string
	resultVersion   string
	resultSuccess   bool
	resultTaskID    string

	diffFrom string
	diffTo   string

	importFile string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single build result",
	RunE:  runRecord,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Print the build result of a crate version",
	RunE:  runLookup,
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Classify every crate built with two toolchains",
	RunE:  runDiff,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import build results from a JSON-lines file",
	Long: `Import build results, one JSON object per line:

  {"toolchain":"beta-2024-02-01","crate_name":"foo","crate_vers":"1.0.0","success":true,"task_id":"..."}

Use --file - to read from stdin.`,
	RunE: runImport,
}

var toolchainsCmd = &cobra.Command{
	Use:   "toolchains",
	Short: "List toolchains with recorded results",
	RunE:  runToolchains,
}

func init() {
	rootCmd.AddCommand(recordCmd, lookupCmd, diffCmd, importCmd, toolchainsCmd)

	for _, c := range []*cobra.Command{recordCmd, lookupCmd} {
		c.Flags().StringVar(&resultToolchain, "toolchain", "",
			"Toolchain, e.g. nightly-2024-02-01")
		c.Flags().StringVar(&resultCrate, "crate", "", "Crate name")
		c.Flags().StringVar(&resultVersion, "version", "", "Crate version")

		_ = c.MarkFlagRequired("toolchain")
		_ = c.MarkFlagRequired("crate")
		_ = c.MarkFlagRequired("version")
	}

	recordCmd.Flags().BoolVar(&resultSuccess, "success", false,
		"Whether the build succeeded")
	recordCmd.Flags().StringVar(&resultTaskID, "task-id", "",
		"Identifier of the build task")

	diffCmd.Flags().StringVar(&diffFrom, "from", "", "Baseline toolchain")
	diffCmd.Flags().StringVar(&diffTo, "to", "", "Compared toolchain")
	_ = diffCmd.MarkFlagRequired("from")
	_ = diffCmd.MarkFlagRequired("to")

	importCmd.Flags().StringVar(&importFile, "file", "", "Results file path")
	_ = importCmd.MarkFlagRequired("file")
}

func resultKey() (resultstore.Key, error) {
	tc, err := toolchain.Parse(resultToolchain)
	if err != nil {
		return resultstore.Key{}, fmt.Errorf("invalid --toolchain: %w", err)
	}

	return resultstore.Key{
		Toolchain: tc,
		CrateName: resultCrate,
		CrateVers: resultVersion,
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	key, err := resultKey()
	if err != nil {
		return err
	}

	result := &resultstore.BuildResult{Key: key, Success: resultSuccess}
	if resultTaskID != "" {
		result.TaskID = &resultTaskID
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), cfg, func(store resultstore.Store) error {
		if err := store.UpsertResult(cmd.Context(), result); err != nil {
			return fmt.Errorf("recording result: %w", err)
		}

		log.WithField("toolchain", key.Toolchain.String()).
			WithField("crate", key.CrateName+"@"+key.CrateVers).
			WithField("success", result.Success).
			Info("Build result recorded")

		return nil
	})
}

func runLookup(cmd *cobra.Command, _ []string) error {
	key, err := resultKey()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), cfg, func(store resultstore.Store) error {
		result, err := store.GetResult(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("looking up result: %w", err)
		}

		if result == nil {
			return fmt.Errorf("no result for %s %s@%s",
				key.Toolchain, key.CrateName, key.CrateVers)
		}

		return printJSON(result)
	})
}

func runDiff(cmd *cobra.Command, _ []string) error {
	from, err := toolchain.Parse(diffFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}

	to, err := toolchain.Parse(diffTo)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), cfg, func(store resultstore.Store) error {
		pairs, err := store.ResultPairs(cmd.Context(), from, to)
		if err != nil {
			return fmt.Errorf("comparing toolchains: %w", err)
		}

		statuses := analysis.ClassifyPairs(pairs)

		return printJSON(map[string]any{
			"from":     from,
			"to":       to,
			"summary":  analysis.Summarize(statuses),
			"statuses": statuses,
		})
	})
}

func runImport(cmd *cobra.Command, _ []string) error {
	var in io.Reader = os.Stdin

	if importFile != "-" {
		f, err := os.Open(importFile)
		if err != nil {
			return fmt.Errorf("opening %s: %w", importFile, err)
		}
		defer func() { _ = f.Close() }()

		in = f
	}

	// Parse everything before touching the store.
	results, err := ingest.ReadResults(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", importFile, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), cfg, func(store resultstore.Store) error {
		importer := ingest.NewImporter(log, store, cfg.Ingest.Concurrency)

		if _, err := importer.Import(cmd.Context(), results); err != nil {
			return err
		}

		return nil
	})
}

func runToolchains(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return withStore(cmd.Context(), cfg, func(store resultstore.Store) error {
		toolchains, err := store.ListToolchains(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing toolchains: %w", err)
		}

		for _, tc := range toolchains {
			fmt.Println(tc)
		}

		return nil
	})
}
