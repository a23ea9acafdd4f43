package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/fsutil"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		log.WithError(err).Error("Failed to execute command")
	}

	if logFile != nil {
		_ = logFile.Close()
	}

	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crateroor",
	Short: "Crate build regression tracker",
	Long: `Crateroor records the outcome of building crates against Rust toolchain
archives and reports which crates regressed between stable, beta and nightly,
separating root regressions from those caused by a regressed dependency.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crateroor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The flag wins over the config file when both are set.
	if !rootCmd.PersistentFlags().Changed("log-level") && cfg.Global.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	if err := setupLogFile(&cfg.Global.LogFile); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withStore starts the result store, runs fn and stops the store on
// every exit path.
func withStore(
	ctx context.Context,
	cfg *config.Config,
	fn func(store resultstore.Store) error,
) (err error) {
	store := resultstore.NewStore(log, &cfg.Database)

	if err := store.Start(ctx); err != nil {
		_ = store.Stop()

		return fmt.Errorf("starting result store: %w", err)
	}

	defer func() {
		if stopErr := store.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("stopping result store: %w", stopErr)
		}
	}()

	return fn(store)
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(cfg *config.Config, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)

		return err
	}

	owner, err := fsutil.ParseOwner(cfg.Global.FileOwner)
	if err != nil {
		return fmt.Errorf("parsing file owner: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644, owner); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	log.WithField("path", path).Info("Output written")

	return nil
}
