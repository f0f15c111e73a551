package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// Anomaly rule names.
const (
	RuleBurst          = "burst"
	RuleFailedLogins   = "failed_logins"
	RuleErrorSpike     = "error_spike"
	RuleLocationChange = "location_change"
	RuleUnusualTime    = "unusual_time"
)

// MetaLocation is the event context key holding a login location.
const MetaLocation = "location"

// MetaErrorKind is the event context key holding an error kind.
const MetaErrorKind = "kind"

// RiskConfig holds the anomaly thresholds and weights.
type RiskConfig struct {
	LoginCapacity  int
	ActionCapacity int
	ErrorCapacity  int

	MaxActionsPerHour     int
	MaxFailedLoginsPerDay int
	MaxErrorsPerHour      int
	LocationLookback      int
	UnusualStartHour      int
	UnusualEndHour        int

	BurstWeight          int
	FailedLoginsWeight   int
	ErrorSpikeWeight     int
	LocationChangeWeight int
	UnusualTimeWeight    int

	HealthyThreshold int
	WarningThreshold int

	Location *time.Location
}

// DefaultRiskConfig returns the stock thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		LoginCapacity:  1000,
		ActionCapacity: 5000,
		ErrorCapacity:  500,

		MaxActionsPerHour:     20,
		MaxFailedLoginsPerDay: 3,
		MaxErrorsPerHour:      5,
		LocationLookback:      10,
		UnusualStartHour:      0,
		UnusualEndHour:        5,

		BurstWeight:          15,
		FailedLoginsWeight:   10,
		ErrorSpikeWeight:     10,
		LocationChangeWeight: 5,
		UnusualTimeWeight:    3,

		HealthyThreshold: 80,
		WarningThreshold: 50,

		Location: time.UTC,
	}
}

// Validate checks capacities and thresholds.
func (c RiskConfig) Validate() error {
	switch {
	case c.LoginCapacity < 1 || c.ActionCapacity < 1 || c.ErrorCapacity < 1:
		return apperrors.NewConfigurationError("risk.capacity", "ring capacities must be positive")
	case c.MaxActionsPerHour < 0 || c.MaxFailedLoginsPerDay < 0 || c.MaxErrorsPerHour < 0:
		return apperrors.NewConfigurationError("risk.thresholds", "thresholds must not be negative")
	case c.UnusualStartHour < 0 || c.UnusualEndHour > 24 || c.UnusualEndHour < c.UnusualStartHour:
		return apperrors.NewConfigurationError("risk.unusual_hours", "invalid range %d-%d", c.UnusualStartHour, c.UnusualEndHour)
	case c.WarningThreshold > c.HealthyThreshold || c.WarningThreshold < 0 || c.HealthyThreshold > 100:
		return apperrors.NewConfigurationError("risk.health_thresholds", "need 0 <= warning <= healthy <= 100")
	}
	return nil
}

// RiskExport is a point-in-time dump of the monitor.
type RiskExport struct {
	ExportedAt time.Time            `json:"exported_at"`
	Health     core.HealthStatus    `json:"health"`
	Summary    core.ActivitySummary `json:"summary"`
	Logins     []core.EventRecord   `json:"logins"`
	Actions    []core.EventRecord   `json:"actions"`
	Errors     []core.EventRecord   `json:"errors"`
}

// RiskMonitor keeps rolling event windows and a health score derived from
// the anomalies detected over them.
type RiskMonitor struct {
	cfg  RiskConfig
	deps Deps

	mu      sync.Mutex
	logins  *ring[core.EventRecord]
	actions *ring[core.EventRecord]
	errs    *ring[core.EventRecord]
	score   int
	level   core.HealthLevel
}

// NewRiskMonitor validates cfg and starts at a score of 100.
func NewRiskMonitor(cfg RiskConfig, deps Deps) (*RiskMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &RiskMonitor{
		cfg:     cfg,
		deps:    deps.withDefaults(),
		logins:  newRing[core.EventRecord](cfg.LoginCapacity),
		actions: newRing[core.EventRecord](cfg.ActionCapacity),
		errs:    newRing[core.EventRecord](cfg.ErrorCapacity),
		score:   100,
		level:   core.HealthHealthy,
	}, nil
}

// RecordLogin appends a login attempt. meta may carry MetaLocation.
func (m *RiskMonitor) RecordLogin(success bool, meta map[string]string) {
	m.record(m.logins, core.EventLogin, success, meta)
}

// RecordAction appends an action outcome.
func (m *RiskMonitor) RecordAction(success bool, meta map[string]string) {
	m.record(m.actions, core.EventAction, success, meta)
}

// RecordError appends an error of the given kind.
func (m *RiskMonitor) RecordError(kind string, meta map[string]string) {
	eventCtx := maps.Clone(meta)
	if eventCtx == nil {
		eventCtx = make(map[string]string, 1)
	}
	eventCtx[MetaErrorKind] = kind

	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs.push(core.EventRecord{Timestamp: m.deps.Clock(), Kind: core.EventError, Context: eventCtx})
}

// DetectAnomalies evaluates every rule against the current windows. Each
// triggered rule lowers the score by its weight, once per call.
func (m *RiskMonitor) DetectAnomalies(ctx context.Context) []core.Anomaly {
	m.mu.Lock()
	now := m.deps.Clock()

	var found []core.Anomaly
	add := func(rule string, severity core.Severity, weight int, description string) {
		found = append(found, core.Anomaly{
			Rule:        rule,
			Severity:    severity,
			Weight:      weight,
			Description: description,
			DetectedAt:  now,
		})
		m.score = max(0, m.score-weight)
	}

	if n := countSince(m.actions, now.Add(-time.Hour), nil); n > m.cfg.MaxActionsPerHour {
		add(RuleBurst, core.SeverityCritical, m.cfg.BurstWeight,
			fmt.Sprintf("%d actions in the last hour (threshold %d)", n, m.cfg.MaxActionsPerHour))
	}
	failed := func(e core.EventRecord) bool { return !e.Outcome }
	if n := countSince(m.logins, now.Add(-24*time.Hour), failed); n > m.cfg.MaxFailedLoginsPerDay {
		add(RuleFailedLogins, core.SeverityHigh, m.cfg.FailedLoginsWeight,
			fmt.Sprintf("%d failed logins in the last 24h (threshold %d)", n, m.cfg.MaxFailedLoginsPerDay))
	}
	if n := countSince(m.errs, now.Add(-time.Hour), nil); n > m.cfg.MaxErrorsPerHour {
		add(RuleErrorSpike, core.SeverityHigh, m.cfg.ErrorSpikeWeight,
			fmt.Sprintf("%d errors in the last hour (threshold %d)", n, m.cfg.MaxErrorsPerHour))
	}
	if location, ok := m.newLocationLocked(); ok {
		add(RuleLocationChange, core.SeverityMedium, m.cfg.LocationChangeWeight,
			fmt.Sprintf("login from new location %q", location))
	}
	if n := m.unusualLoginsLocked(now); n > 0 {
		add(RuleUnusualTime, core.SeverityLow, m.cfg.UnusualTimeWeight,
			fmt.Sprintf("%d logins between %02d:00 and %02d:00", n, m.cfg.UnusualStartHour, m.cfg.UnusualEndHour))
	}

	transition := m.updateLevelLocked()
	score := m.score
	m.mu.Unlock()

	for _, a := range found {
		if a.Severity == core.SeverityCritical || a.Severity == core.SeverityHigh {
			m.deps.Logger.Warn("anomaly detected",
				zap.String("rule", a.Rule),
				zap.String("severity", string(a.Severity)),
				zap.String("description", a.Description))
		}
		m.deps.emit(ctx, core.CategoryAnomaly, a.Severity, a.Description, map[string]string{
			"rule":   a.Rule,
			"weight": strconv.Itoa(a.Weight),
			"score":  strconv.Itoa(score),
		})
	}
	m.emitTransition(ctx, transition, score)
	return found
}

// HealthStatus returns the current score, level and window counts.
func (m *RiskMonitor) HealthStatus() core.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.deps.Clock()
	failed := func(e core.EventRecord) bool { return !e.Outcome }
	return core.HealthStatus{
		Score:     m.score,
		Status:    m.levelFor(m.score),
		Timestamp: now,
		Metrics: map[string]int{
			"total_logins":        m.logins.len(),
			"total_actions":       m.actions.len(),
			"total_errors":        m.errs.len(),
			"logins_last_24h":     countSince(m.logins, now.Add(-24*time.Hour), nil),
			"failed_logins_24h":   countSince(m.logins, now.Add(-24*time.Hour), failed),
			"actions_last_hour":   countSince(m.actions, now.Add(-time.Hour), nil),
			"errors_last_hour":    countSince(m.errs, now.Add(-time.Hour), nil),
			"failed_actions_hour": countSince(m.actions, now.Add(-time.Hour), failed),
		},
	}
}

// ResetHealth restores the score to 100. Event windows are kept.
func (m *RiskMonitor) ResetHealth(ctx context.Context) {
	m.mu.Lock()
	m.score = 100
	transition := m.updateLevelLocked()
	m.mu.Unlock()

	m.deps.Logger.Info("health score reset")
	m.emitTransition(ctx, transition, 100)
}

// ActivitySummary aggregates the windows over the trailing period.
func (m *RiskMonitor) ActivitySummary(period time.Duration) core.ActivitySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.deps.Clock().Add(-period)
	summary := core.ActivitySummary{Period: period, ErrorsByKind: make(map[string]int)}
	m.logins.each(func(e core.EventRecord) bool {
		if !e.Timestamp.Before(cutoff) {
			summary.Logins++
			if !e.Outcome {
				summary.FailedLogins++
			}
		}
		return true
	})
	m.actions.each(func(e core.EventRecord) bool {
		if !e.Timestamp.Before(cutoff) {
			summary.Actions++
			if !e.Outcome {
				summary.FailedActions++
			}
		}
		return true
	})
	m.errs.each(func(e core.EventRecord) bool {
		if !e.Timestamp.Before(cutoff) {
			summary.Errors++
			summary.ErrorsByKind[e.Context[MetaErrorKind]]++
		}
		return true
	})
	return summary
}

// Export dumps the windows, the health status and a 24h summary.
func (m *RiskMonitor) Export() RiskExport {
	health := m.HealthStatus()
	summary := m.ActivitySummary(24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()
	return RiskExport{
		ExportedAt: m.deps.Clock(),
		Health:     health,
		Summary:    summary,
		Logins:     m.logins.snapshot(),
		Actions:    m.actions.snapshot(),
		Errors:     m.errs.snapshot(),
	}
}

func (m *RiskMonitor) record(r *ring[core.EventRecord], kind core.EventKind, outcome bool, meta map[string]string) {
	event := core.EventRecord{
		Timestamp: m.deps.Clock(),
		Kind:      kind,
		Outcome:   outcome,
		Context:   maps.Clone(meta),
	}
	m.mu.Lock()
	r.push(event)
	m.mu.Unlock()
}

// newLocationLocked reports the location of the most recent located
// successful login when none of the earlier located successes within the
// lookback share it. A first located login after an unlocated one counts
// as new.
func (m *RiskMonitor) newLocationLocked() (string, bool) {
	lookback := m.cfg.LocationLookback
	if lookback <= 0 || m.logins.len() < 2 {
		return "", false
	}

	var located []string
	seen := 0
	m.logins.reverse(func(e core.EventRecord) bool {
		seen++
		if loc := e.Context[MetaLocation]; e.Outcome && loc != "" {
			located = append(located, loc)
		}
		return seen < lookback
	})
	if len(located) == 0 {
		return "", false
	}
	current := located[0]
	if slices.Contains(located[1:], current) {
		return "", false
	}
	return current, true
}

func (m *RiskMonitor) unusualLoginsLocked(now time.Time) int {
	cutoff := now.Add(-24 * time.Hour)
	count := 0
	m.logins.each(func(e core.EventRecord) bool {
		if e.Outcome && !e.Timestamp.Before(cutoff) {
			hour := e.Timestamp.In(m.cfg.Location).Hour()
			if hour >= m.cfg.UnusualStartHour && hour < m.cfg.UnusualEndHour {
				count++
			}
		}
		return true
	})
	return count
}

type levelTransition struct {
	from, to core.HealthLevel
}

func (m *RiskMonitor) updateLevelLocked() *levelTransition {
	next := m.levelFor(m.score)
	if next == m.level {
		return nil
	}
	t := &levelTransition{from: m.level, to: next}
	m.level = next
	return t
}

func (m *RiskMonitor) emitTransition(ctx context.Context, t *levelTransition, score int) {
	if t == nil {
		return
	}
	severity := core.SeverityInfo
	switch t.to {
	case core.HealthWarning:
		severity = core.SeverityMedium
	case core.HealthCritical:
		severity = core.SeverityCritical
	}
	m.deps.Logger.Info("health status changed",
		zap.String("from", string(t.from)),
		zap.String("to", string(t.to)),
		zap.Int("score", score))
	m.deps.emit(ctx, core.CategoryHealth, severity, fmt.Sprintf("health %s -> %s", t.from, t.to), map[string]string{
		"from":  string(t.from),
		"to":    string(t.to),
		"score": strconv.Itoa(score),
	})
}

func (m *RiskMonitor) levelFor(score int) core.HealthLevel {
	switch {
	case score >= m.cfg.HealthyThreshold:
		return core.HealthHealthy
	case score >= m.cfg.WarningThreshold:
		return core.HealthWarning
	default:
		return core.HealthCritical
	}
}

func countSince(r *ring[core.EventRecord], cutoff time.Time, match func(core.EventRecord) bool) int {
	n := 0
	r.each(func(e core.EventRecord) bool {
		if !e.Timestamp.Before(cutoff) && (match == nil || match(e)) {
			n++
		}
		return true
	})
	return n
}
