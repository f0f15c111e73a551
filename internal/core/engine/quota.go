package engine

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// QuotaConfig configures the daily quota and adaptive backoff.
type QuotaConfig struct {
	DailyLimit              int
	MinDelay                time.Duration
	MaxDelay                time.Duration
	MaxBackoffDelay         time.Duration
	BackoffFactor           float64
	AdaptiveBackoff         bool
	BackoffCooldown         time.Duration
	RetainBackoffOnRollover bool
	Location                *time.Location
}

// DefaultQuotaConfig returns 50 actions per day spaced 2-5 minutes apart.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		DailyLimit:              50,
		MinDelay:                120 * time.Second,
		MaxDelay:                300 * time.Second,
		MaxBackoffDelay:         900 * time.Second,
		BackoffFactor:           1.5,
		AdaptiveBackoff:         true,
		BackoffCooldown:         time.Hour,
		RetainBackoffOnRollover: true,
		Location:                time.UTC,
	}
}

// Validate checks quota and delay bounds.
func (c QuotaConfig) Validate() error {
	switch {
	case c.DailyLimit < 1:
		return apperrors.NewConfigurationError("quota.daily_limit", "must be at least 1, got %d", c.DailyLimit)
	case c.MinDelay < 0:
		return apperrors.NewConfigurationError("quota.min_delay", "must not be negative")
	case c.MaxDelay <= 0 || c.MaxDelay < c.MinDelay:
		return apperrors.NewConfigurationError("quota.max_delay", "must be positive and at least min_delay (%s)", c.MinDelay)
	case c.MaxBackoffDelay < c.MaxDelay:
		return apperrors.NewConfigurationError("quota.max_backoff_delay", "must be at least max_delay (%s)", c.MaxDelay)
	case c.BackoffFactor < 1:
		return apperrors.NewConfigurationError("quota.backoff_factor", "must be at least 1, got %v", c.BackoffFactor)
	case c.BackoffCooldown < 0:
		return apperrors.NewConfigurationError("quota.backoff_cooldown", "must not be negative")
	}
	return nil
}

// MaxMultiplier is the backoff ceiling MaxBackoffDelay/MaxDelay.
func (c QuotaConfig) MaxMultiplier() float64 {
	if c.MaxDelay <= 0 {
		return 1
	}
	return math.Max(1, float64(c.MaxBackoffDelay)/float64(c.MaxDelay))
}

// QuotaStore persists quota state. LoadQuota returns nil, nil when nothing
// has been stored yet.
type QuotaStore interface {
	LoadQuota(ctx context.Context) (*core.QuotaState, error)
	SaveQuota(ctx context.Context, state *core.QuotaState) error
}

// QuotaLimiter enforces the daily action quota and spacing between actions.
type QuotaLimiter struct {
	mu         sync.Mutex
	cfg        QuotaConfig
	store      QuotaStore
	multiplier func(time.Time) float64
	deps       Deps

	state core.QuotaState
	// lastRunAction is the last action recorded by this process. Delays are
	// not enforced against actions from a previous run.
	lastRunAction time.Time
}

// NewQuotaLimiter validates cfg and loads persisted state. A load failure is
// logged and the limiter starts from a fresh state. multiplier scales the
// daily limit (light days); nil means 1.
func NewQuotaLimiter(ctx context.Context, cfg QuotaConfig, store QuotaStore, multiplier func(time.Time) float64, deps Deps) (*QuotaLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if multiplier == nil {
		multiplier = func(time.Time) float64 { return 1 }
	}

	q := &QuotaLimiter{
		cfg:        cfg,
		store:      store,
		multiplier: multiplier,
		deps:       deps.withDefaults(),
	}

	now := q.deps.Clock()
	q.state = core.QuotaState{
		Date:              q.dayKey(now),
		Limit:             cfg.DailyLimit,
		BackoffMultiplier: 1,
		UpdatedAt:         now,
	}

	if store != nil {
		loaded, err := store.LoadQuota(ctx)
		switch {
		case err != nil:
			q.deps.Logger.Warn("quota state unavailable, starting fresh",
				zap.Error(apperrors.NewPersistenceError("load quota", err)))
		case loaded != nil:
			q.state = *loaded
		}
	}

	q.state.Limit = cfg.DailyLimit
	q.state.BackoffMultiplier = q.clampMultiplier(q.state.BackoffMultiplier)
	// A rollover found at startup stays in memory until the next write, so
	// opening a limiter only to report never touches the store.
	q.rolloverLocked(now)
	return q, nil
}

// Reload replaces the in-memory state with the persisted one without
// writing anything back. A process observing a worker that runs elsewhere
// calls it before reporting.
func (q *QuotaLimiter) Reload(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	loaded, err := q.store.LoadQuota(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("load quota", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if loaded == nil {
		return nil
	}
	q.state = *loaded
	q.state.Limit = q.cfg.DailyLimit
	q.state.BackoffMultiplier = q.clampMultiplier(q.state.BackoffMultiplier)
	return nil
}

// Config returns the limiter configuration.
func (q *QuotaLimiter) Config() QuotaConfig {
	return q.cfg
}

// CanAct reports whether another action fits in today's effective limit.
func (q *QuotaLimiter) CanAct() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.deps.Clock()
	q.rolloverLocked(now)
	return q.state.Count < q.effectiveLimit(now)
}

// EffectiveLimit returns today's limit after the light-day multiplier.
func (q *QuotaLimiter) EffectiveLimit() int {
	return q.effectiveLimit(q.deps.Clock())
}

// RequiredDelay returns how long to wait before the next action. It is zero
// when no action has been recorded in this run.
func (q *QuotaLimiter) RequiredDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.lastRunAction.IsZero() {
		return 0
	}
	elapsed := q.deps.Clock().Sub(q.lastRunAction)
	remaining := q.sampleDelayLocked() - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SampleDelay draws an inter-action delay scaled by the backoff multiplier.
func (q *QuotaLimiter) SampleDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sampleDelayLocked()
}

// RecordAction counts one confirmed action. It returns
// ErrDailyLimitReached without changing state when the quota is exhausted.
// Persistence failures are logged, not returned.
func (q *QuotaLimiter) RecordAction(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.deps.Clock()
	if q.rolloverLocked(now) {
		q.persistLocked(ctx)
	}

	limit := q.effectiveLimit(now)
	if q.state.Count >= limit {
		return apperrors.ErrDailyLimitReached
	}

	q.state.Count++
	q.state.LastActionAt = &now
	q.state.LimitReached = q.state.Count >= limit
	q.state.UpdatedAt = now
	q.lastRunAction = now
	q.persistLocked(ctx)

	if q.state.LimitReached {
		q.deps.Logger.Info("daily limit reached",
			zap.Int("count", q.state.Count),
			zap.Int("limit", limit))
		q.deps.emit(ctx, core.CategoryQuota, core.SeverityInfo, "daily limit reached", map[string]string{
			"count": strconv.Itoa(q.state.Count),
			"limit": strconv.Itoa(limit),
			"date":  q.state.Date,
		})
	}
	return nil
}

// DetectRateLimited raises the backoff multiplier by BackoffFactor, capped at
// MaxBackoffDelay/MaxDelay. It reports false when adaptive backoff is off.
func (q *QuotaLimiter) DetectRateLimited(ctx context.Context) bool {
	if !q.cfg.AdaptiveBackoff {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.deps.Clock()
	previous := q.state.BackoffMultiplier
	q.state.BackoffMultiplier = q.clampMultiplier(previous * q.cfg.BackoffFactor)
	q.state.RateLimitedAt = &now
	q.state.UpdatedAt = now
	q.persistLocked(ctx)

	q.deps.Logger.Warn("rate limiting detected, backing off",
		zap.Float64("previous_multiplier", previous),
		zap.Float64("multiplier", q.state.BackoffMultiplier))
	q.deps.emit(ctx, core.CategoryBackoff, core.SeverityHigh, "backoff increased", map[string]string{
		"previous": formatMultiplier(previous),
		"current":  formatMultiplier(q.state.BackoffMultiplier),
	})
	return true
}

// ResetBackoffIfSafe restores the multiplier to 1 once BackoffCooldown has
// elapsed since the latest detection.
func (q *QuotaLimiter) ResetBackoffIfSafe(ctx context.Context) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state.BackoffMultiplier <= 1 {
		return false
	}
	now := q.deps.Clock()
	if q.state.RateLimitedAt != nil && now.Sub(*q.state.RateLimitedAt) < q.cfg.BackoffCooldown {
		return false
	}
	q.resetBackoffLocked(ctx, now, "cooldown elapsed")
	return true
}

// ClearBackoff restores the multiplier to 1 regardless of the cooldown.
func (q *QuotaLimiter) ClearBackoff(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetBackoffLocked(ctx, q.deps.Clock(), "cleared by operator")
}

// Reset clears today's count and the backoff state.
func (q *QuotaLimiter) Reset(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.deps.Clock()
	q.state = core.QuotaState{
		Date:              q.dayKey(now),
		Limit:             q.cfg.DailyLimit,
		BackoffMultiplier: 1,
		UpdatedAt:         now,
	}
	q.lastRunAction = time.Time{}
	q.persistLocked(ctx)
	q.deps.emit(ctx, core.CategoryQuota, core.SeverityInfo, "quota reset", nil)
}

// Snapshot returns a copy of the current state.
func (q *QuotaLimiter) Snapshot() core.QuotaState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyQuotaState(q.state)
}

// Progress summarizes today's usage.
func (q *QuotaLimiter) Progress() core.QuotaProgress {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.deps.Clock()
	q.rolloverLocked(now)
	limit := q.effectiveLimit(now)
	remaining := max(limit-q.state.Count, 0)

	return core.QuotaProgress{
		Date:              q.state.Date,
		Count:             q.state.Count,
		EffectiveLimit:    limit,
		Remaining:         remaining,
		PercentUsed:       math.Round(float64(q.state.Count)/float64(limit)*1000) / 10,
		LimitReached:      q.state.Count >= limit,
		BackoffMultiplier: q.state.BackoffMultiplier,
		RateLimited:       q.state.BackoffMultiplier > 1,
		LastActionAt:      copyTime(q.state.LastActionAt),
	}
}

func (q *QuotaLimiter) resetBackoffLocked(ctx context.Context, now time.Time, reason string) {
	previous := q.state.BackoffMultiplier
	q.state.BackoffMultiplier = 1
	q.state.RateLimitedAt = nil
	q.state.UpdatedAt = now
	q.persistLocked(ctx)

	q.deps.Logger.Info("backoff reset", zap.String("reason", reason))
	q.deps.emit(ctx, core.CategoryBackoff, core.SeverityInfo, "backoff reset", map[string]string{
		"previous": formatMultiplier(previous),
		"reason":   reason,
	})
}

// rolloverLocked resets the count when the calendar day changed.
func (q *QuotaLimiter) rolloverLocked(now time.Time) bool {
	today := q.dayKey(now)
	if q.state.Date == today {
		return false
	}

	q.deps.Logger.Info("quota rollover",
		zap.String("previous_date", q.state.Date),
		zap.String("date", today),
		zap.Int("previous_count", q.state.Count))

	q.state.Date = today
	q.state.Count = 0
	q.state.LimitReached = false
	q.state.UpdatedAt = now
	if !q.cfg.RetainBackoffOnRollover {
		q.state.BackoffMultiplier = 1
		q.state.RateLimitedAt = nil
	}
	return true
}

func (q *QuotaLimiter) persistLocked(ctx context.Context) {
	if q.store == nil {
		return
	}
	snapshot := copyQuotaState(q.state)
	if err := q.store.SaveQuota(ctx, &snapshot); err != nil {
		q.deps.Logger.Warn("quota state not persisted",
			zap.Error(apperrors.NewPersistenceError("save quota", err)))
	}
}

func (q *QuotaLimiter) sampleDelayLocked() time.Duration {
	multiplier := q.state.BackoffMultiplier
	lo := min(scaleDuration(q.cfg.MinDelay, multiplier), q.cfg.MaxBackoffDelay)
	hi := min(scaleDuration(q.cfg.MaxDelay, multiplier), q.cfg.MaxBackoffDelay)
	return uniformDuration(q.deps.Rand, lo, hi)
}

func (q *QuotaLimiter) effectiveLimit(now time.Time) int {
	limit := int(math.Floor(float64(q.cfg.DailyLimit) * q.multiplier(now)))
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (q *QuotaLimiter) clampMultiplier(m float64) float64 {
	if m < 1 || math.IsNaN(m) {
		return 1
	}
	return math.Min(m, q.cfg.MaxMultiplier())
}

func (q *QuotaLimiter) dayKey(now time.Time) string {
	return now.In(q.cfg.Location).Format(time.DateOnly)
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(math.Round(float64(d) * factor))
}

func formatMultiplier(m float64) string {
	return strconv.FormatFloat(m, 'f', 4, 64)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func copyQuotaState(s core.QuotaState) core.QuotaState {
	s.LastActionAt = copyTime(s.LastActionAt)
	s.RateLimitedAt = copyTime(s.RateLimitedAt)
	return s
}
