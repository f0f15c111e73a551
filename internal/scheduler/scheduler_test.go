package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
)

type fakeQuota struct {
	resets   int
	clear    bool
	progress core.QuotaProgress
}

func (f *fakeQuota) ResetBackoffIfSafe(context.Context) bool {
	f.resets++
	return f.clear
}

func (f *fakeQuota) Progress() core.QuotaProgress { return f.progress }

type fakeHealth struct{ status core.HealthStatus }

func (f fakeHealth) HealthStatus() core.HealthStatus { return f.status }

type fakePruner struct {
	before time.Time
	err    error
}

func (f *fakePruner) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, f.err
}

func housekeeping() config.HousekeepingConfig {
	return config.HousekeepingConfig{
		Enabled:        true,
		BackoffCheck:   "@every 5m",
		HealthSnapshot: "@every 1m",
		PruneEvents:    "@daily",
		EventRetention: 48 * time.Hour,
	}
}

func TestNewRegistersTasks(t *testing.T) {
	s, err := New(context.Background(), housekeeping(), time.UTC, Jobs{
		Quota:  &fakeQuota{},
		Health: fakeHealth{},
		Events: &fakePruner{},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, s.Cron.Entries(), 3)
}

func TestNewSkipsTasksWithoutCollaborators(t *testing.T) {
	cfg := housekeeping()
	cfg.HealthSnapshot = ""
	s, err := New(context.Background(), cfg, nil, Jobs{Quota: &fakeQuota{}}, nil)
	require.NoError(t, err)
	assert.Len(t, s.Cron.Entries(), 1)
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := housekeeping()
	cfg.BackoffCheck = "every five minutes"
	_, err := New(context.Background(), cfg, time.UTC, Jobs{Quota: &fakeQuota{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff check")
}

func TestTasks(t *testing.T) {
	now := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	quota := &fakeQuota{clear: true, progress: core.QuotaProgress{Count: 4, EffectiveLimit: 40}}
	pruner := &fakePruner{}
	var snapped []int
	snapshot := func(p core.QuotaProgress, h core.HealthStatus) {
		snapped = append(snapped, p.Count, h.Score)
	}

	s, err := New(context.Background(), housekeeping(), time.UTC, Jobs{
		Quota:    quota,
		Health:   fakeHealth{status: core.HealthStatus{Score: 90, Status: core.HealthHealthy}},
		Events:   pruner,
		Snapshot: snapshot,
		Clock:    func() time.Time { return now },
	}, nil)
	require.NoError(t, err)

	s.BackoffCheck()
	assert.Equal(t, 1, quota.resets)

	s.HealthSnapshot()
	assert.Equal(t, []int{4, 90}, snapped)

	s.PruneEvents()
	assert.Equal(t, now.Add(-48*time.Hour), pruner.before)

	pruner.err = errors.New("locked")
	s.PruneEvents()
}

func TestStartStop(t *testing.T) {
	s, err := New(context.Background(), housekeeping(), time.UTC, Jobs{Quota: &fakeQuota{}}, nil)
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
