package statefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/core"
)

func TestQuotaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	loaded, err := store.LoadQuota(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	last := time.Date(2025, 1, 6, 10, 30, 15, 0, time.UTC)
	state := &core.QuotaState{
		Date:              "2025-01-06",
		Count:             5,
		Limit:             5,
		BackoffMultiplier: 1.5,
		LastActionAt:      &last,
		RateLimitedAt:     &last,
		LimitReached:      true,
		UpdatedAt:         last,
	}
	require.NoError(t, store.SaveQuota(ctx, state))

	loaded, err = store.LoadQuota(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.Date, loaded.Date)
	assert.Equal(t, state.Count, loaded.Count)
	assert.Equal(t, state.BackoffMultiplier, loaded.BackoffMultiplier)
	assert.True(t, loaded.LimitReached)
	require.NotNil(t, loaded.LastActionAt)
	assert.True(t, loaded.LastActionAt.Equal(last))

	entries, err := os.ReadDir(store.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are renamed away")
	assert.Equal(t, QuotaFile, entries[0].Name())
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	state := &core.SessionState{
		SessionID:    "c0ffee",
		StartedAt:    time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		ActionsCount: 2,
		Crashed:      true,
		CrashReason:  "unclean shutdown",
	}
	require.NoError(t, store.SaveSession(ctx, state))

	loaded, err := store.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "c0ffee", loaded.SessionID)
	assert.True(t, loaded.Crashed)
	assert.Equal(t, "unclean shutdown", loaded.CrashReason)
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, QuotaFile), []byte("{not json"), 0o600))

	store, err := New(dir)
	require.NoError(t, err)

	_, err = store.LoadQuota(context.Background())
	require.ErrorContains(t, err, "decode quota.json")
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
