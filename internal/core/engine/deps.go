package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/recorder"
)

// Deps carries the collaborators shared by every component. Zero fields
// fall back to the system clock, a time-seeded random source, a no-op
// logger and a no-op recorder.
type Deps struct {
	Clock    Clock
	Rand     Rand
	Logger   *zap.Logger
	Recorder recorder.Recorder
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = systemClock
	}
	if d.Rand == nil {
		d.Rand = NewTimeSeededRand()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Recorder == nil {
		d.Recorder = recorder.Noop()
	}
	return d
}

func (d Deps) emit(ctx context.Context, category core.RecordCategory, severity core.Severity, detail string, fields map[string]string) {
	d.Recorder.Record(ctx, recorder.NewRecord(d.Clock(), category, severity, detail, fields))
}
