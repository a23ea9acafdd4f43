package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

// defaultConcurrency is the number of upserts in flight when no explicit
// concurrency value is configured.
const defaultConcurrency = 4

// maxLineSize bounds a single JSON line.
const maxLineSize = 1 << 20

// Recorder persists build results. resultstore.Store satisfies it.
type Recorder interface {
	UpsertResult(ctx context.Context, result *resultstore.BuildResult) error
}

// Record is one line of a results file.
type Record struct {
	Toolchain toolchain.Toolchain `json:"toolchain"`
	CrateName string              `json:"crate_name"`
	CrateVers string              `json:"crate_vers"`
	Success   *bool               `json:"success"`
	TaskID    *string             `json:"task_id,omitempty"`
}

// BuildResult validates the record and converts it.
func (r *Record) BuildResult() (*resultstore.BuildResult, error) {
	switch {
	case !r.Toolchain.Channel.Valid():
		return nil, errors.New("missing or invalid toolchain")
	case strings.TrimSpace(r.CrateName) == "":
		return nil, errors.New("missing crate_name")
	case strings.TrimSpace(r.CrateVers) == "":
		return nil, errors.New("missing crate_vers")
	case r.Success == nil:
		return nil, errors.New("missing success")
	}

	return &resultstore.BuildResult{
		Key: resultstore.Key{
			Toolchain: r.Toolchain,
			CrateName: r.CrateName,
			CrateVers: r.CrateVers,
		},
		Success: *r.Success,
		TaskID:  r.TaskID,
	}, nil
}

// ReadResults parses JSON-lines build records. Blank lines are skipped.
// When a key appears more than once the last line wins.
func ReadResults(r io.Reader) ([]*resultstore.BuildResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		results []*resultstore.BuildResult
		index   = make(map[string]int)
		line    int
	)

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		result, err := rec.BuildResult()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		key := result.Toolchain.String() + "\x00" + result.CrateName + "\x00" + result.CrateVers

		if i, ok := index[key]; ok {
			results[i] = result

			continue
		}

		index[key] = len(results)
		results = append(results, result)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	return results, nil
}

// Importer writes build results to a Recorder with bounded parallelism.
type Importer struct {
	log         logrus.FieldLogger
	store       Recorder
	concurrency int
}

// NewImporter creates an importer.
func NewImporter(log logrus.FieldLogger, store Recorder, concurrency int) *Importer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Importer{
		log:         log.WithField("component", "ingest"),
		store:       store,
		concurrency: concurrency,
	}
}

// Import upserts every result and returns the number written. The first
// failure cancels the remaining work.
func (im *Importer) Import(
	ctx context.Context, results []*resultstore.BuildResult,
) (int, error) {
	im.log.WithFields(logrus.Fields{
		"results":     len(results),
		"concurrency": im.concurrency,
	}).Info("Importing build results")

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)

	var written atomic.Int64

	for _, result := range results {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if err := im.store.UpsertResult(gCtx, result); err != nil {
				return fmt.Errorf("recording %s %s@%s: %w",
					result.Toolchain, result.CrateName, result.CrateVers, err)
			}

			written.Add(1)

			return nil
		})
	}

	err := g.Wait()
	count := int(written.Load())

	if err != nil {
		return count, fmt.Errorf("importing results: %w", err)
	}

	im.log.WithField("count", count).Info("Build results imported")

	return count, nil
}

// ImportReader parses r and imports its results.
func (im *Importer) ImportReader(ctx context.Context, r io.Reader) (int, error) {
	results, err := ReadResults(r)
	if err != nil {
		return 0, err
	}

	return im.Import(ctx, results)
}
