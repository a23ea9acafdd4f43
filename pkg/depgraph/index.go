package depgraph

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ethpandaops/crateroor/pkg/config"
)

// maxIndexLine bounds a single JSON record in an index file.
const maxIndexLine = 4 * 1024 * 1024

// checkoutDirName is the index checkout directory inside the cache dir.
const checkoutDirName = "crates.io-index"

// commandRunner runs an external command in dir.
type commandRunner func(ctx context.Context, dir string, name string, args ...string) error

// IndexProvider loads crates from a crates.io-style index. The index is
// either a local directory or a git repository that is cloned into the
// cache directory and refreshed on first use. The graph is built once per
// provider and shared by all callers.
type IndexProvider struct {
	log logrus.FieldLogger
	cfg *config.IndexConfig
	run commandRunner

	group singleflight.Group
	mu    sync.Mutex
	graph Graph
}

// Compile-time interface check.
var _ Provider = (*IndexProvider)(nil)

// NewIndexProvider creates a provider for the configured index.
func NewIndexProvider(log logrus.FieldLogger, cfg *config.IndexConfig) *IndexProvider {
	p := &IndexProvider{
		log: log.WithField("component", "depgraph"),
		cfg: cfg,
	}
	p.run = p.execCommand

	return p
}

// Graph returns the dependency graph, loading the index on first call.
// Concurrent first calls share a single load.
func (p *IndexProvider) Graph(ctx context.Context) (Graph, error) {
	p.mu.Lock()
	cached := p.graph
	p.mu.Unlock()

	if cached != nil {
		return cached, nil
	}

	v, err, _ := p.group.Do("graph", func() (any, error) {
		crates, err := p.LoadCrates(ctx)
		if err != nil {
			return nil, err
		}

		graph := BuildGraph(crates)

		p.mu.Lock()
		p.graph = graph
		p.mu.Unlock()

		p.log.WithField("crates", len(graph)).Info("Dependency graph loaded")

		return graph, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(Graph), nil
}

// LoadCrates synchronizes the index and parses every record in it.
func (p *IndexProvider) LoadCrates(ctx context.Context) ([]Crate, error) {
	dir, err := p.sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncing index: %w", err)
	}

	crates, err := ReadIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	return crates, nil
}

// sync returns a directory containing the index, cloning or updating the
// git checkout when the address is not a local directory.
func (p *IndexProvider) sync(ctx context.Context) (string, error) {
	if info, err := os.Stat(p.cfg.Address); err == nil && info.IsDir() {
		return p.cfg.Address, nil
	}

	if err := os.MkdirAll(p.cfg.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	dir := filepath.Join(p.cfg.CacheDir, checkoutDirName)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if err := p.run(ctx, dir, "git", "fetch", "--depth", "1",
			"origin", p.cfg.Branch); err != nil {
			return "", err
		}

		if err := p.run(ctx, dir, "git", "reset", "--hard",
			"FETCH_HEAD"); err != nil {
			return "", err
		}

		return dir, nil
	}

	if err := p.run(ctx, p.cfg.CacheDir, "git", "clone", "--depth", "1",
		"--branch", p.cfg.Branch, p.cfg.Address, dir); err != nil {
		return "", err
	}

	return dir, nil
}

func (p *IndexProvider) execCommand(
	ctx context.Context, dir string, name string, args ...string,
) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.log.WithFields(logrus.Fields{
		"dir":     dir,
		"command": shellescape.QuoteCommand(append([]string{name}, args...)),
	}).Debug("Running index command")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}

	return nil
}

// ReadIndex parses all index files under dir. Each file holds one JSON
// record per line. The git metadata directory and the index config.json
// are skipped.
func ReadIndex(dir string) ([]Crate, error) {
	var crates []Crate

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Name() == "config.json" || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		parsed, err := readIndexFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		crates = append(crates, parsed...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return crates, nil
}

func readIndexFile(path string) ([]Crate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var crates []Crate

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxIndexLine)

	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var c Crate
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		crates = append(crates, c)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return crates, nil
}
