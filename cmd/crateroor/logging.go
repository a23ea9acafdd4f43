package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ethpandaops/crateroor/pkg/config"
)

// logFile is the rotating log writer, if enabled. Closed by main.
var logFile io.Closer

// setupLogFile tees log output into a rotating file when configured.
func setupLogFile(cfg *config.LogFileConfig) error {
	if cfg.Path == "" || logFile != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	logFile = lj

	return nil
}
