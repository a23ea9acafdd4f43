package depgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/crateroor/pkg/config"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func writeIndexFile(t *testing.T, dir, rel, content string) {
	t.Helper()

	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildGraph(t *testing.T) {
	crates := []Crate{
		{Name: "foo", Vers: "1.0.0"},
		{Name: "bar", Vers: "0.1.0", Deps: []Dependency{{Name: "foo", Req: "^1"}}},
		{Name: "bar", Vers: "0.2.0", Deps: []Dependency{
			{Name: "foo", Req: "^1"},
			{Name: "baz", Req: "^1"},
			{Name: "quickcheck", Req: "^1", Kind: "dev"},
			{Name: "foo", Req: "^1", Kind: "build"},
		}},
		{Name: "bar", Vers: "0.3.0", Yanked: true, Deps: []Dependency{{Name: "yanked-dep"}}},
		{Name: "renamed", Vers: "1.0.0", Deps: []Dependency{{Name: "alias", Package: "foo"}}},
		{Name: "gone", Vers: "1.0.0", Yanked: true, Deps: []Dependency{{Name: "foo"}}},
	}

	graph := BuildGraph(crates)

	assert.Equal(t, Graph{
		"foo":     {},
		"bar":     {"foo", "baz"},
		"renamed": {"foo"},
		"gone":    {"foo"},
	}, graph)
}

func TestGraph_Dependencies(t *testing.T) {
	graph := Graph{"a": {"b"}}

	deps, ok := graph.Dependencies("a")
	assert.True(t, ok)
	assert.Equal(t, []string{"b"}, deps)

	_, ok = graph.Dependencies("missing")
	assert.False(t, ok)
}

func TestReadIndex(t *testing.T) {
	dir := t.TempDir()

	writeIndexFile(t, dir, "config.json", `{"dl":"https://example.com"}`)
	writeIndexFile(t, dir, ".git/HEAD", "ref: refs/heads/master")
	writeIndexFile(t, dir, "3/f/foo",
		`{"name":"foo","vers":"1.0.0","deps":[],"yanked":false}`+"\n"+
			`{"name":"foo","vers":"1.1.0","deps":[],"yanked":false}`+"\n")
	writeIndexFile(t, dir, "ba/r/bar",
		"\n"+`{"name":"bar","vers":"0.1.0","deps":[{"name":"foo","req":"^1","optional":false}],"yanked":false}`)

	crates, err := ReadIndex(dir)
	require.NoError(t, err)
	require.Len(t, crates, 3)

	graph := BuildGraph(crates)
	assert.Equal(t, []string{"foo"}, graph["bar"])
	assert.Empty(t, graph["foo"])
}

func TestReadIndex_InvalidRecord(t *testing.T) {
	dir := t.TempDir()
	writeIndexFile(t, dir, "1/a", "not json\n")

	_, err := ReadIndex(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestIndexProvider_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	writeIndexFile(t, dir, "1/a", `{"name":"a","vers":"1.0.0","deps":[{"name":"b","req":"*"}]}`)

	p := NewIndexProvider(testLogger(), &config.IndexConfig{Address: dir})
	p.run = func(context.Context, string, string, ...string) error {
		t.Fatal("local index must not run git")

		return nil
	}

	graph, err := p.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Graph{"a": {"b"}}, graph)
}

func TestIndexProvider_CloneThenFetch(t *testing.T) {
	cacheDir := t.TempDir()
	cfg := &config.IndexConfig{
		Address:  "https://example.invalid/index.git",
		Branch:   "master",
		CacheDir: cacheDir,
	}

	var (
		mu       sync.Mutex
		commands [][]string
	)

	p := NewIndexProvider(testLogger(), cfg)
	p.run = func(_ context.Context, _ string, name string, args ...string) error {
		mu.Lock()
		commands = append(commands, append([]string{name}, args...))
		mu.Unlock()

		if args[0] == "clone" {
			checkout := args[len(args)-1]
			writeIndexFile(t, checkout, ".git/HEAD", "ref")
			writeIndexFile(t, checkout, "1/a", `{"name":"a","vers":"1.0.0","deps":[]}`)
		}

		return nil
	}

	crates, err := p.LoadCrates(context.Background())
	require.NoError(t, err)
	require.Len(t, crates, 1)
	require.Len(t, commands, 1)
	assert.Equal(t, "clone", commands[0][1])

	_, err = p.LoadCrates(context.Background())
	require.NoError(t, err)
	require.Len(t, commands, 3)
	assert.Equal(t, "fetch", commands[1][1])
	assert.Equal(t, "reset", commands[2][1])
}

func TestIndexProvider_GraphLoadedOnce(t *testing.T) {
	dir := t.TempDir()
	writeIndexFile(t, dir, "1/a", `{"name":"a","vers":"1.0.0","deps":[]}`)

	p := NewIndexProvider(testLogger(), &config.IndexConfig{Address: dir})

	first, err := p.Graph(context.Background())
	require.NoError(t, err)

	// Later index changes are not observed by the same provider.
	writeIndexFile(t, dir, "1/b", `{"name":"b","vers":"1.0.0","deps":[]}`)

	second, err := p.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second, 1)
}

func TestIndexProvider_SyncError(t *testing.T) {
	p := NewIndexProvider(testLogger(), &config.IndexConfig{
		Address:  "https://example.invalid/index.git",
		Branch:   "master",
		CacheDir: t.TempDir(),
	})

	var calls atomic.Int32

	p.run = func(context.Context, string, string, ...string) error {
		calls.Add(1)

		return errors.New("network unreachable")
	}

	_, err := p.Graph(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syncing index")
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatic(t *testing.T) {
	graph, err := Static{"a": {"b"}}.Graph(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Graph{"a": {"b"}}, graph)
}
