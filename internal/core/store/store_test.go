package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLWithExistingQuery", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?foo=bar",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123&foo=bar", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./cadence.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./cadence.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestBuildSQLiteDSN(t *testing.T) {
	t.Run("RejectsURL", func(t *testing.T) {
		_, err := buildSQLiteDSN(config.StoreConfig{URL: "libsql://example.turso.io"})
		require.Error(t, err)
	})

	t.Run("PlainPathCreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "cadence.db")

		dsn, err := buildSQLiteDSN(config.StoreConfig{Path: path})
		require.NoError(t, err)
		require.Equal(t, path, dsn)
		require.DirExists(t, filepath.Dir(path))
	})

	t.Run("MemoryPath", func(t *testing.T) {
		dsn, err := buildSQLiteDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.Equal(t, "sqlite", store.Driver())

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	return store
}

func TestQuotaStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	loaded, err := store.LoadQuota(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	last := time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC)
	state := &core.QuotaState{
		Date:              "2025-01-06",
		Count:             3,
		Limit:             50,
		BackoffMultiplier: 2.25,
		LastActionAt:      &last,
		UpdatedAt:         last,
	}
	require.NoError(t, store.SaveQuota(ctx, state))

	loaded, err = store.LoadQuota(ctx)
	require.NoError(t, err)
	require.Equal(t, state, loaded)

	state.Count = 50
	state.LimitReached = true
	state.RateLimitedAt = &last
	require.NoError(t, store.SaveQuota(ctx, state))

	loaded, err = store.LoadQuota(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, loaded.Count)
	assert.True(t, loaded.LimitReached)
	require.NotNil(t, loaded.RateLimitedAt)
	assert.True(t, loaded.RateLimitedAt.Equal(last))
}

func TestSessionStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	loaded, err := store.LoadSession(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	started := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	state := &core.SessionState{
		SessionID:    "c0ffee",
		StartedAt:    started,
		ActionsCount: 4,
		SkippedCount: 2,
		Running:      true,
		UpdatedAt:    started.Add(time.Hour),
	}
	require.NoError(t, store.SaveSession(ctx, state))

	loaded, err = store.LoadSession(ctx)
	require.NoError(t, err)
	require.Equal(t, state, loaded)

	last := started.Add(30 * time.Minute)
	state.Running = false
	state.Crashed = true
	state.CrashReason = "unclean shutdown"
	state.LastActionAt = &last
	state.LastHandledID = "job-4"
	require.NoError(t, store.SaveSession(ctx, state))

	loaded, err = store.LoadSession(ctx)
	require.NoError(t, err)
	require.Equal(t, state, loaded)
}

func TestControlEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	records := []core.ControlRecord{
		{ID: "1", Timestamp: base, Category: core.CategorySkip, Severity: core.SeverityInfo, Detail: "target skipped", Fields: map[string]string{"target_id": "a"}},
		{ID: "2", Timestamp: base.Add(time.Minute), Category: core.CategoryBackoff, Severity: core.SeverityHigh, Detail: "rate limited"},
		{ID: "3", Timestamp: base.Add(2 * time.Minute), Category: core.CategorySkip, Severity: core.SeverityInfo, Detail: "target skipped"},
	}
	for _, record := range records {
		require.NoError(t, store.AppendEvent(ctx, record))
	}
	require.NoError(t, store.AppendEvent(ctx, records[0]), "duplicate ids are ignored")
	require.Error(t, store.AppendEvent(ctx, core.ControlRecord{}))

	all, err := store.ListEvents(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.Equal(t, "1", all[2].ID)
	assert.Equal(t, map[string]string{"target_id": "a"}, all[2].Fields)

	skips, err := store.ListEvents(ctx, EventQuery{Category: core.CategorySkip, Limit: 1})
	require.NoError(t, err)
	require.Len(t, skips, 1)
	assert.Equal(t, "3", skips[0].ID)

	recent, err := store.ListEvents(ctx, EventQuery{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	removed, err := store.PruneEvents(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestHandledTargets(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	store.now = func() time.Time { return time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC) }

	handled, err := store.IsHandled(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, handled)

	require.NoError(t, store.MarkHandled(ctx, "job-1", "skipped:relevance"))
	require.NoError(t, store.MarkHandled(ctx, "job-1", "performed"))
	require.NoError(t, store.MarkHandled(ctx, "job-2", "substituted"))
	require.Error(t, store.MarkHandled(ctx, " ", "performed"))

	handled, err = store.IsHandled(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, handled)

	counts, err := store.HandledCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"performed": 1, "substituted": 1}, counts)
}

func TestNilStore(t *testing.T) {
	var store *Store
	_, err := store.LoadQuota(context.Background())
	require.Error(t, err)
	require.NoError(t, store.Close())
	require.Empty(t, store.Driver())
}
