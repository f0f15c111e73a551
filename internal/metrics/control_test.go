package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/observability"
	"github.com/cadencectl/cadence/internal/recorder"
)

// Without an initialised telemetry system every emitter is a no-op.
func TestEmittersWithoutTelemetry(t *testing.T) {
	saved := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = saved })

	assert.NotPanics(t, func() {
		Recorder().Record(context.Background(), core.ControlRecord{Category: core.CategorySkip})
		RecordDecision("perform")
		SetQuota(core.QuotaProgress{Count: 1})
		SetHealth(core.HealthStatus{Score: 90, Status: core.HealthHealthy})
		RecordError("NOT_FOUND", 404)
		RecordPanic()
		RecordHealthCheck("live", true, time.Millisecond)
	})
}

func TestEmittersWithTelemetry(t *testing.T) {
	require.NoError(t, observability.InitMetrics("cadence_metrics_test", 0))
	t.Cleanup(observability.ShutdownMetrics)

	rec := recorder.Multi(recorder.Noop(), Recorder())
	assert.NotPanics(t, func() {
		now := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
		rec.Record(context.Background(), recorder.NewRecord(now, core.CategorySkip, core.SeverityInfo, "target skipped",
			map[string]string{"reason": "challenge", "detail": "captcha"}))
		rec.Record(context.Background(), recorder.NewRecord(now, core.CategoryAnomaly, core.SeverityHigh, "burst",
			map[string]string{"rule": "activity_burst"}))
		rec.Record(context.Background(), recorder.NewRecord(now, core.CategoryAction, core.SeverityMedium, "action failed", nil))
		SetQuota(core.QuotaProgress{Count: 3, EffectiveLimit: 50, Remaining: 47, BackoffMultiplier: 1.5})
		SetHealth(core.HealthStatus{Score: 70, Status: core.HealthWarning})
	})
}
