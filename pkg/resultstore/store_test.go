package resultstore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/crateroor/pkg/config"
	"github.com/ethpandaops/crateroor/pkg/resultstore"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

func setupTestStore(t *testing.T) resultstore.Store {
	t.Helper()

	return setupTestStoreAt(t, ":memory:")
}

func setupTestStoreAt(t *testing.T, path string) resultstore.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: path},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := resultstore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func dated(channel toolchain.Channel, year int, month time.Month, day int) toolchain.Toolchain {
	d := toolchain.NewDate(year, month, day)

	return toolchain.New(channel, &d)
}

func strPtr(s string) *string { return &s }

var (
	stableTC = dated(toolchain.Stable, 2024, time.January, 1)
	betaTC   = dated(toolchain.Beta, 2024, time.February, 1)
)

func TestStore_UpsertAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := resultstore.Key{Toolchain: stableTC, CrateName: "foo", CrateVers: "1.0.0"}

	require.NoError(t, s.UpsertResult(ctx, &resultstore.BuildResult{
		Key:     key,
		Success: true,
		TaskID:  strPtr("task-1"),
	}))

	got, err := s.GetResult(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key, got.Key)
	assert.True(t, got.Success)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, "task-1", *got.TaskID)
}

func TestStore_GetResultAbsent(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetResult(context.Background(), resultstore.Key{
		Toolchain: stableTC, CrateName: "missing", CrateVers: "0.0.1",
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_UpsertIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := resultstore.Key{Toolchain: betaTC, CrateName: "foo", CrateVers: "1.0.0"}

	require.NoError(t, s.UpsertResult(ctx, &resultstore.BuildResult{
		Key: key, Success: true, TaskID: strPtr("first"),
	}))

	// Upsert the same key again; the latest write must win and no
	// duplicate row may appear.
	require.NoError(t, s.UpsertResult(ctx, &resultstore.BuildResult{
		Key: key, Success: false, TaskID: nil,
	}))

	got, err := s.GetResult(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Success)
	assert.Nil(t, got.TaskID)

	// Pairing the toolchain with itself yields one pair per row.
	pairs, err := s.ResultPairs(ctx, betaTC, betaTC)
	require.NoError(t, err)
	assert.Len(t, pairs, 1, "upsert must not duplicate the row")
}

func TestStore_ConcurrentUpsertsSameKey(t *testing.T) {
	s := setupTestStoreAt(t, filepath.Join(t.TempDir(), "results.db"))
	ctx := context.Background()

	key := resultstore.Key{Toolchain: stableTC, CrateName: "racy", CrateVers: "0.1.0"}

	const writers = 16

	var wg sync.WaitGroup

	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs <- s.UpsertResult(ctx, &resultstore.BuildResult{
				Key:     key,
				Success: i%2 == 0,
				TaskID:  strPtr(fmt.Sprintf("task-%d", i)),
			})
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	pairs, err := s.ResultPairs(ctx, stableTC, stableTC)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.NotNil(t, pairs[0].From.TaskID)
	assert.Contains(t, *pairs[0].From.TaskID, "task-")
}

func TestStore_ResultPairsOrderingAndJoin(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	results := []resultstore.BuildResult{
		{Key: resultstore.Key{Toolchain: betaTC, CrateName: "zeta", CrateVers: "1.0.0"}, Success: false},
		{Key: resultstore.Key{Toolchain: stableTC, CrateName: "alpha", CrateVers: "2.0.0"}, Success: true},
		{Key: resultstore.Key{Toolchain: stableTC, CrateName: "zeta", CrateVers: "1.0.0"}, Success: true, TaskID: strPtr("z-stable")},
		{Key: resultstore.Key{Toolchain: betaTC, CrateName: "alpha", CrateVers: "1.0.0"}, Success: true},
		{Key: resultstore.Key{Toolchain: stableTC, CrateName: "alpha", CrateVers: "1.0.0"}, Success: false},
		{Key: resultstore.Key{Toolchain: betaTC, CrateName: "alpha", CrateVers: "2.0.0"}, Success: true},
		// Only built on stable; excluded from the join.
		{Key: resultstore.Key{Toolchain: stableTC, CrateName: "only-stable", CrateVers: "1.0.0"}, Success: true},
		// Only built on beta; excluded from the join.
		{Key: resultstore.Key{Toolchain: betaTC, CrateName: "beta-only", CrateVers: "1.0.0"}, Success: true},
	}

	for i := range results {
		require.NoError(t, s.UpsertResult(ctx, &results[i]))
	}

	pairs, err := s.ResultPairs(ctx, stableTC, betaTC)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, resultstore.ResultPair{
		CrateName: "alpha", CrateVers: "1.0.0",
		From: resultstore.Outcome{Success: false},
		To:   resultstore.Outcome{Success: true},
	}, pairs[0])
	assert.Equal(t, "alpha", pairs[1].CrateName)
	assert.Equal(t, "2.0.0", pairs[1].CrateVers)
	assert.Equal(t, resultstore.ResultPair{
		CrateName: "zeta", CrateVers: "1.0.0",
		From: resultstore.Outcome{Success: true, TaskID: strPtr("z-stable")},
		To:   resultstore.Outcome{Success: false},
	}, pairs[2])
}

func TestStore_ListToolchains(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	plain := toolchain.New(toolchain.Nightly, nil)

	for _, tc := range []toolchain.Toolchain{betaTC, stableTC, plain, betaTC} {
		require.NoError(t, s.UpsertResult(ctx, &resultstore.BuildResult{
			Key:     resultstore.Key{Toolchain: tc, CrateName: "foo", CrateVers: "1.0.0"},
			Success: true,
		}))
	}

	toolchains, err := s.ListToolchains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []toolchain.Toolchain{betaTC, plain, stableTC}, toolchains)
}

func TestStore_DropSchemaAndRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s := setupTestStoreAt(t, path)
	ctx := context.Background()

	key := resultstore.Key{Toolchain: stableTC, CrateName: "foo", CrateVers: "1.0.0"}
	require.NoError(t, s.UpsertResult(ctx, &resultstore.BuildResult{Key: key, Success: true}))

	require.NoError(t, s.DropSchema(ctx))

	_, err := s.GetResult(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, resultstore.ErrQuery)

	err = s.UpsertResult(ctx, &resultstore.BuildResult{Key: key, Success: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, resultstore.ErrQuery)

	require.NoError(t, s.Stop())

	restarted := setupTestStoreAt(t, path)

	got, err := restarted.GetResult(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "schema ensure recreates an empty table")
}

func TestStore_FailedUpsertRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DropSchema(ctx))

	key := resultstore.Key{Toolchain: stableTC, CrateName: "foo", CrateVers: "1.0.0"}
	require.Error(t, s.UpsertResult(ctx, &resultstore.BuildResult{Key: key, Success: true}))

	// The store holds a single sqlite connection; a leaked transaction
	// would block this call forever.
	done := make(chan error, 1)

	go func() {
		_, err := s.ListToolchains(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, resultstore.ErrQuery)
	case <-time.After(5 * time.Second):
		t.Fatal("connection still held by an aborted transaction")
	}
}

func TestStore_StopWithoutStart(t *testing.T) {
	s := resultstore.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "sqlite"})
	assert.NoError(t, s.Stop())
}

func TestStore_OperationsRequireStart(t *testing.T) {
	ctx := context.Background()
	key := resultstore.Key{Toolchain: stableTC, CrateName: "foo", CrateVers: "1.0.0"}

	notStarted := resultstore.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "sqlite"})

	stopped := setupTestStore(t)
	require.NoError(t, stopped.Stop())

	for name, s := range map[string]resultstore.Store{
		"not started": notStarted,
		"stopped":     stopped,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.DropSchema(ctx), resultstore.ErrConnection)
			assert.ErrorIs(t, s.UpsertResult(ctx, &resultstore.BuildResult{Key: key}),
				resultstore.ErrConnection)

			_, err := s.GetResult(ctx, key)
			assert.ErrorIs(t, err, resultstore.ErrConnection)

			_, err = s.ResultPairs(ctx, stableTC, betaTC)
			assert.ErrorIs(t, err, resultstore.ErrConnection)

			_, err = s.ListToolchains(ctx)
			assert.ErrorIs(t, err, resultstore.ErrConnection)
		})
	}
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := resultstore.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resultstore.ErrConnection)
	assert.NoError(t, s.Stop())
}
