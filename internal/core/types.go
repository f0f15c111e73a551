package core

import (
	"fmt"
	"time"
)

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t)
}

// On anchors the time of day to the calendar day of ref.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ref.Location()).Add(time.Duration(t))
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%02d:%02d", h, m)
}

// ActivityWindow is a time-of-day interval during which actions are allowed.
type ActivityWindow struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// BehaviorKind identifies a behavior injection outcome.
type BehaviorKind string

const (
	BehaviorProceed    BehaviorKind = "proceed"
	BehaviorPause      BehaviorKind = "pause"
	BehaviorSkip       BehaviorKind = "skip"
	BehaviorSubstitute BehaviorKind = "substitute"
)

// BehaviorDecision is produced fresh for each candidate action.
type BehaviorDecision struct {
	Kind     BehaviorKind  `json:"kind"`
	Duration time.Duration `json:"duration,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// SkipReason classifies why a target was bypassed.
type SkipReason string

const (
	SkipNone      SkipReason = "none"
	SkipPlatform  SkipReason = "platform"
	SkipChallenge SkipReason = "challenge"
	SkipRelevance SkipReason = "relevance"
)

// SkipVerdict is the uniform classifier result.
type SkipVerdict struct {
	Skip   bool       `json:"skip"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// NoSkip is the verdict returned when no rule matched.
func NoSkip() SkipVerdict {
	return SkipVerdict{Reason: SkipNone}
}

// Target describes one candidate action produced by the discovery collaborator.
type Target struct {
	ID             string        `json:"id" yaml:"id"`
	URL            string        `json:"url" yaml:"url"`
	Content        string        `json:"content,omitempty" yaml:"content"`
	Title          string        `json:"title,omitempty" yaml:"title"`
	Organization   string        `json:"organization,omitempty" yaml:"organization"`
	Age            time.Duration `json:"age,omitempty" yaml:"age"`
	AlreadyHandled bool          `json:"already_handled,omitempty" yaml:"already_handled"`
	Repost         bool          `json:"repost,omitempty" yaml:"repost"`
}

// Outcome is reported by the action executor.
type Outcome struct {
	Success     bool          `json:"success"`
	RateLimited bool          `json:"rate_limited,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// EventKind identifies which rolling window an event belongs to.
type EventKind string

const (
	EventLogin  EventKind = "login"
	EventAction EventKind = "action"
	EventError  EventKind = "error"
)

// EventRecord is one observation held by the risk monitor.
type EventRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      EventKind         `json:"kind"`
	Outcome   bool              `json:"outcome"`
	Context   map[string]string `json:"context,omitempty"`
}

// Severity grades anomalies and control records.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is a rule-triggered risk detection.
type Anomaly struct {
	Rule        string    `json:"rule"`
	Severity    Severity  `json:"severity"`
	Weight      int       `json:"weight"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// HealthLevel buckets the health score.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// HealthStatus summarizes recent anomaly pressure.
type HealthStatus struct {
	Score     int            `json:"score"`
	Status    HealthLevel    `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Metrics   map[string]int `json:"metrics,omitempty"`
}

// ActivitySummary aggregates the rolling windows over a period.
type ActivitySummary struct {
	Period        time.Duration  `json:"period"`
	Logins        int            `json:"logins"`
	FailedLogins  int            `json:"failed_logins"`
	Actions       int            `json:"actions"`
	FailedActions int            `json:"failed_actions"`
	Errors        int            `json:"errors"`
	ErrorsByKind  map[string]int `json:"errors_by_kind,omitempty"`
}

// SessionState is the crash-recovery metadata for one worker process.
type SessionState struct {
	SessionID        string     `json:"session_id"`
	StartedAt        time.Time  `json:"started_at"`
	ActionsCount     int        `json:"actions_count"`
	SkippedCount     int        `json:"skipped_count"`
	SubstitutedCount int        `json:"substituted_count"`
	FailedCount      int        `json:"failed_count"`
	LastActionAt     *time.Time `json:"last_action_at,omitempty"`
	LastHandledID    string     `json:"last_handled_id,omitempty"`
	Running          bool       `json:"running"`
	Crashed          bool       `json:"crashed"`
	CrashReason      string     `json:"crash_reason,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RecordCategory groups control records for the observability sink.
type RecordCategory string

const (
	CategorySkip     RecordCategory = "skip"
	CategoryAnomaly  RecordCategory = "anomaly"
	CategoryBackoff  RecordCategory = "backoff"
	CategoryHealth   RecordCategory = "health"
	CategoryQuota    RecordCategory = "quota"
	CategorySession  RecordCategory = "session"
	CategoryBehavior RecordCategory = "behavior"
	CategoryAction   RecordCategory = "action"
)

// ControlRecord is emitted to the observability sink for every skip,
// anomaly, backoff change and health transition.
type ControlRecord struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Category  RecordCategory    `json:"category"`
	Severity  Severity          `json:"severity"`
	Detail    string            `json:"detail"`
	Fields    map[string]string `json:"fields,omitempty"`
}
