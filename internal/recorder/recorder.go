package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
)

// Recorder receives control records for skips, anomalies, backoff changes
// and health transitions. Implementations must not block the worker.
type Recorder interface {
	Record(ctx context.Context, record core.ControlRecord)
}

// Func adapts a function to the Recorder interface.
type Func func(ctx context.Context, record core.ControlRecord)

// Record calls f.
func (f Func) Record(ctx context.Context, record core.ControlRecord) {
	f(ctx, record)
}

type noop struct{}

func (noop) Record(context.Context, core.ControlRecord) {}

// Noop discards every record.
func Noop() Recorder {
	return noop{}
}

type multi []Recorder

func (m multi) Record(ctx context.Context, record core.ControlRecord) {
	for _, r := range m {
		r.Record(ctx, record)
	}
}

// Multi fans records out to every non-nil recorder in order.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return Noop()
	case 1:
		return out[0]
	}
	return out
}

// NewRecord stamps a record with a fresh ID.
func NewRecord(now time.Time, category core.RecordCategory, severity core.Severity, detail string, fields map[string]string) core.ControlRecord {
	return core.ControlRecord{
		ID:        uuid.NewString(),
		Timestamp: now,
		Category:  category,
		Severity:  severity,
		Detail:    detail,
		Fields:    fields,
	}
}

// Log writes records to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a recorder that logs every record.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Record logs high and critical records at warn level, everything else at info.
func (l *Log) Record(_ context.Context, record core.ControlRecord) {
	fields := make([]zap.Field, 0, len(record.Fields)+4)
	fields = append(fields,
		zap.String("record_id", record.ID),
		zap.String("category", string(record.Category)),
		zap.String("severity", string(record.Severity)),
		zap.Time("at", record.Timestamp),
	)
	for key, value := range record.Fields {
		fields = append(fields, zap.String(key, value))
	}

	switch record.Severity {
	case core.SeverityHigh, core.SeverityCritical:
		l.logger.Warn(record.Detail, fields...)
	default:
		l.logger.Info(record.Detail, fields...)
	}
}

// Appender persists control records.
type Appender interface {
	AppendEvent(ctx context.Context, record core.ControlRecord) error
}

// Store persists records through an Appender. Failures are logged and
// dropped.
type Store struct {
	appender Appender
	logger   *zap.Logger
}

// NewStore wraps an appender.
func NewStore(appender Appender, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{appender: appender, logger: logger}
}

// Record appends the record.
func (s *Store) Record(ctx context.Context, record core.ControlRecord) {
	if s == nil || s.appender == nil {
		return
	}
	if err := s.appender.AppendEvent(ctx, record); err != nil {
		s.logger.Warn("control record not persisted",
			zap.String("record_id", record.ID),
			zap.String("category", string(record.Category)),
			zap.Error(err))
	}
}
