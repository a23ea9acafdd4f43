package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*resultstore.BuildResult
	failOn  string
}

func (f *fakeRecorder) UpsertResult(_ context.Context, r *resultstore.BuildResult) error {
	if r.CrateName == f.failOn {
		return errors.New("write failed")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.results = append(f.results, r)

	return nil
}

func TestReadResults(t *testing.T) {
	input := `{"toolchain":"stable-2024-01-01","crate_name":"foo","crate_vers":"1.0.0","success":true,"task_id":"t1"}

{"toolchain":"nightly","crate_name":"bar","crate_vers":"0.1.0","success":false}
{"toolchain":"stable-2024-01-01","crate_name":"foo","crate_vers":"1.0.0","success":false}
`

	results, err := ReadResults(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "stable-2024-01-01", results[0].Toolchain.String())
	assert.Equal(t, "foo", results[0].CrateName)
	assert.False(t, results[0].Success, "later line for the same key wins")
	assert.Nil(t, results[0].TaskID)

	assert.Equal(t, toolchain.Nightly, results[1].Toolchain.Channel)
	assert.Nil(t, results[1].Toolchain.ArchiveDate)
}

func TestReadResults_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bad json", input: "{", want: "line 1"},
		{name: "bad toolchain", input: `{"toolchain":"dev","crate_name":"a","crate_vers":"1","success":true}`, want: "line 1"},
		{name: "missing toolchain", input: `{"crate_name":"a","crate_vers":"1","success":true}`, want: "missing or invalid toolchain"},
		{name: "missing name", input: `{"toolchain":"beta","crate_vers":"1","success":true}`, want: "missing crate_name"},
		{name: "missing version", input: `{"toolchain":"beta","crate_name":"a","success":true}`, want: "missing crate_vers"},
		{name: "missing success", input: "\n" + `{"toolchain":"beta","crate_name":"a","crate_vers":"1"}`, want: "line 2: missing success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadResults(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestImporter_ImportIntoStore(t *testing.T) {
	store := resultstore.NewStore(testLogger(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})

	ctx := context.Background()

	require.NoError(t, store.Start(ctx))
	t.Cleanup(func() { _ = store.Stop() })

	var sb strings.Builder
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		sb.WriteString(`{"toolchain":"beta-2024-02-01","crate_name":"` + name +
			`","crate_vers":"1.0.0","success":true}` + "\n")
	}

	count, err := NewImporter(testLogger(), store, 3).ImportReader(ctx, strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	tc, err := toolchain.Parse("beta-2024-02-01")
	require.NoError(t, err)

	pairs, err := store.ResultPairs(ctx, tc, tc)
	require.NoError(t, err)
	assert.Len(t, pairs, 10)
}

func TestImporter_FailsFast(t *testing.T) {
	results := []*resultstore.BuildResult{
		{Key: resultstore.Key{Toolchain: toolchain.New(toolchain.Stable, nil), CrateName: "good", CrateVers: "1"}, Success: true},
		{Key: resultstore.Key{Toolchain: toolchain.New(toolchain.Stable, nil), CrateName: "bad", CrateVers: "1"}, Success: true},
	}

	rec := &fakeRecorder{failOn: "bad"}

	_, err := NewImporter(testLogger(), rec, 1).Import(context.Background(), results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording stable bad@1")
}

func TestImporter_ParseErrorWritesNothing(t *testing.T) {
	rec := &fakeRecorder{}

	count, err := NewImporter(testLogger(), rec, 0).ImportReader(context.Background(),
		strings.NewReader(`{"toolchain":"stable","crate_name":"a","crate_vers":"1","success":true}`+"\nnot json\n"))
	require.Error(t, err)
	assert.Zero(t, count)
	assert.Empty(t, rec.results)
}
