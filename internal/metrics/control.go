package metrics

import (
	"context"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/observability"
	"github.com/cadencectl/cadence/internal/recorder"
)

// Control plane metric names.
const (
	ControlRecordsTotal = "control_records_total"
	SkipsTotal          = "skips_total"
	AnomaliesTotal      = "anomalies_total"
	ActionsTotal        = "actions_total"
	DecisionsTotal      = "decisions_total"

	QuotaCount             = "quota_count"
	QuotaLimit             = "quota_effective_limit"
	QuotaRemaining         = "quota_remaining"
	QuotaBackoffMultiplier = "quota_backoff_multiplier"
	HealthScore            = "health_score"
)

// Recorder turns control records into counters. Combine it with the log
// and store recorders through recorder.Multi.
func Recorder() recorder.Recorder {
	return recorder.Func(func(_ context.Context, record core.ControlRecord) {
		RecordControl(record)
	})
}

// RecordControl counts one control record by category and severity, plus
// the per-category breakdowns.
func RecordControl(record core.ControlRecord) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	_ = sys.Counter(ControlRecordsTotal, 1, map[string]string{
		"category": string(record.Category),
		"severity": string(record.Severity),
	})

	switch record.Category {
	case core.CategorySkip:
		_ = sys.Counter(SkipsTotal, 1, map[string]string{
			"reason": record.Fields["reason"],
			"detail": record.Fields["detail"],
		})
	case core.CategoryAnomaly:
		_ = sys.Counter(AnomaliesTotal, 1, map[string]string{
			"rule": record.Fields["rule"],
		})
	case core.CategoryAction:
		status := "performed"
		if record.Severity != core.SeverityInfo {
			status = "failed"
		}
		_ = sys.Counter(ActionsTotal, 1, map[string]string{"status": status})
	}
}

// RecordDecision counts a controller verdict kind.
func RecordDecision(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(DecisionsTotal, 1, map[string]string{"kind": kind})
	}
}

// SetQuota publishes quota progress gauges.
func SetQuota(progress core.QuotaProgress) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Gauge(QuotaCount, float64(progress.Count), nil)
	_ = sys.Gauge(QuotaLimit, float64(progress.EffectiveLimit), nil)
	_ = sys.Gauge(QuotaRemaining, float64(progress.Remaining), nil)
	_ = sys.Gauge(QuotaBackoffMultiplier, progress.BackoffMultiplier, nil)
}

// SetHealth publishes the health score, labelled with its level.
func SetHealth(status core.HealthStatus) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(HealthScore, float64(status.Score), map[string]string{
			"status": string(status.Status),
		})
	}
}
