package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
)

// Quota is the part of the quota limiter housekeeping touches.
type Quota interface {
	ResetBackoffIfSafe(ctx context.Context) bool
	Progress() core.QuotaProgress
}

// Health reports the current risk health.
type Health interface {
	HealthStatus() core.HealthStatus
}

// EventPruner deletes control records older than a cutoff.
type EventPruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// Jobs are the collaborators the housekeeping tasks act on. Events may be
// nil when the backend keeps no event log. Snapshot receives the periodic
// quota and health readings.
type Jobs struct {
	Quota    Quota
	Health   Health
	Events   EventPruner
	Snapshot func(core.QuotaProgress, core.HealthStatus)
	Clock    func() time.Time
}

// Scheduler runs the housekeeping cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	jobs      Jobs
	retention time.Duration
	logger    *zap.Logger
	ctx       context.Context
}

// New registers every task whose spec is non-empty.
func New(ctx context.Context, cfg config.HousekeepingConfig, loc *time.Location, jobs Jobs, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if jobs.Clock == nil {
		jobs.Clock = func() time.Time { return time.Now().UTC() }
	}

	s := &Scheduler{
		Cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs:      jobs,
		retention: cfg.EventRetention,
		logger:    logger.Named("housekeeping"),
		ctx:       ctx,
	}

	tasks := []struct {
		name string
		spec string
		run  func()
		skip bool
	}{
		{name: "backoff check", spec: cfg.BackoffCheck, run: s.BackoffCheck, skip: jobs.Quota == nil},
		{name: "health snapshot", spec: cfg.HealthSnapshot, run: s.HealthSnapshot, skip: jobs.Quota == nil || jobs.Health == nil},
		{name: "event prune", spec: cfg.PruneEvents, run: s.PruneEvents, skip: jobs.Events == nil || cfg.EventRetention <= 0},
	}
	for _, task := range tasks {
		if task.spec == "" || task.skip {
			continue
		}
		if _, err := s.Cron.AddFunc(task.spec, task.run); err != nil {
			return nil, fmt.Errorf("register %s task: %w", task.name, err)
		}
		s.logger.Debug("task registered", zap.String("task", task.name), zap.String("spec", task.spec))
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.Cron.Entries())))
}

// Stop stops the scheduler and waits for running tasks or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.Cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("scheduler stopped")
}

// BackoffCheck clears an elevated backoff once the cooldown has passed.
func (s *Scheduler) BackoffCheck() {
	if s.jobs.Quota.ResetBackoffIfSafe(s.ctx) {
		s.logger.Info("backoff cleared by housekeeping")
	}
}

// HealthSnapshot publishes quota and health readings.
func (s *Scheduler) HealthSnapshot() {
	progress := s.jobs.Quota.Progress()
	health := s.jobs.Health.HealthStatus()
	if s.jobs.Snapshot != nil {
		s.jobs.Snapshot(progress, health)
	}
	s.logger.Debug("health snapshot",
		zap.Int("count", progress.Count),
		zap.Int("limit", progress.EffectiveLimit),
		zap.Int("score", health.Score),
		zap.String("status", string(health.Status)))
}

// PruneEvents deletes control records older than the retention period.
func (s *Scheduler) PruneEvents() {
	cutoff := s.jobs.Clock().Add(-s.retention)
	removed, err := s.jobs.Events.PruneEvents(s.ctx, cutoff)
	if err != nil {
		s.logger.Warn("event prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("old control records pruned",
			zap.Int64("removed", removed),
			zap.Time("before", cutoff))
	}
}
