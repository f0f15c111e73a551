package config

import (
	"time"

	"github.com/cadencectl/cadence/internal/core/engine"
)

// Config represents the complete application configuration. It is loaded
// in three layers: embedded defaults (defaults.yaml), the user config file,
// then CADENCE_* environment variables and runtime overrides.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Health       HealthConfig       `mapstructure:"health"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Behavior     BehaviorConfig     `mapstructure:"behavior"`
	Classifier   ClassifierConfig   `mapstructure:"classifier"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Housekeeping HousekeepingConfig `mapstructure:"housekeeping"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken enables the bearer-authenticated signal endpoint.
	AdminToken string `mapstructure:"admin_token"`
}

// StoreConfig selects where quota and session state live.
//
// Driver is one of libsql (local file or Turso URL), sqlite (pure Go, local
// file) or file (JSON documents under StateDir, no event log or handled
// index).
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	StateDir  string `mapstructure:"state_dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format is json or console.
	Format string `mapstructure:"format"`

	// File, when set, receives worker logs rotated by size.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScheduleConfig configures activity windows. Times are HH:MM in Timezone.
type ScheduleConfig struct {
	Timezone           string           `mapstructure:"timezone"`
	Windows            []string         `mapstructure:"windows"`
	Jitter             time.Duration    `mapstructure:"jitter"`
	NightBlock         NightBlockConfig `mapstructure:"night_block"`
	LightDays          []string         `mapstructure:"light_days"`
	Holidays           []string         `mapstructure:"holidays"`
	LightDayMultiplier float64          `mapstructure:"light_day_multiplier"`
	Vacation           bool             `mapstructure:"vacation"`
}

// NightBlockConfig is the global quiet period.
type NightBlockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
}

// QuotaConfig mirrors engine.QuotaConfig.
type QuotaConfig struct {
	DailyLimit              int           `mapstructure:"daily_limit"`
	MinDelay                time.Duration `mapstructure:"min_delay"`
	MaxDelay                time.Duration `mapstructure:"max_delay"`
	MaxBackoffDelay         time.Duration `mapstructure:"max_backoff_delay"`
	BackoffFactor           float64       `mapstructure:"backoff_factor"`
	AdaptiveBackoff         bool          `mapstructure:"adaptive_backoff"`
	BackoffCooldown         time.Duration `mapstructure:"backoff_cooldown"`
	RetainBackoffOnRollover bool          `mapstructure:"retain_backoff_on_rollover"`
}

// BehaviorConfig mirrors engine.BehaviorConfig plus the main humanization
// knobs.
type BehaviorConfig struct {
	PauseProbability      float64       `mapstructure:"pause_probability"`
	MinPause              time.Duration `mapstructure:"min_pause"`
	MaxPause              time.Duration `mapstructure:"max_pause"`
	SubstituteProbability float64       `mapstructure:"substitute_probability"`
	SkipProbability       float64       `mapstructure:"skip_probability"`
	MicroBreakEvery       int           `mapstructure:"micro_break_every"`
	MinMicroBreak         time.Duration `mapstructure:"min_micro_break"`
	MaxMicroBreak         time.Duration `mapstructure:"max_micro_break"`
	MinWPM                float64       `mapstructure:"min_wpm"`
	MaxWPM                float64       `mapstructure:"max_wpm"`
	TypoProbability       float64       `mapstructure:"typo_probability"`
	MinReading            time.Duration `mapstructure:"min_reading"`
	MaxReading            time.Duration `mapstructure:"max_reading"`
}

// ClassifierConfig overrides the built-in rules. Empty lists keep the
// defaults.
type ClassifierConfig struct {
	Platforms    []engine.PlatformRule  `mapstructure:"platforms"`
	Challenges   []engine.ChallengeRule `mapstructure:"challenges"`
	SpamPhrases  []string               `mapstructure:"spam_phrases"`
	MaxAge       time.Duration          `mapstructure:"max_age"`
	AvoidReposts bool                   `mapstructure:"avoid_reposts"`
}

// RiskConfig mirrors the anomaly thresholds of engine.RiskConfig.
type RiskConfig struct {
	MaxActionsPerHour     int `mapstructure:"max_actions_per_hour"`
	MaxFailedLoginsPerDay int `mapstructure:"max_failed_logins_per_day"`
	MaxErrorsPerHour      int `mapstructure:"max_errors_per_hour"`
	LocationLookback      int `mapstructure:"location_lookback"`
	UnusualStartHour      int `mapstructure:"unusual_start_hour"`
	UnusualEndHour        int `mapstructure:"unusual_end_hour"`
	HealthyThreshold      int `mapstructure:"healthy_threshold"`
	WarningThreshold      int `mapstructure:"warning_threshold"`
}

// WorkerConfig tunes the run loop.
type WorkerConfig struct {
	Targets           string `mapstructure:"targets"`
	ExitWhenExhausted bool   `mapstructure:"exit_when_exhausted"`
	Research          bool   `mapstructure:"research"`
	Seed              uint64 `mapstructure:"seed"`
}

// ExecutorConfig selects the action executor: dry-run or webhook.
type ExecutorConfig struct {
	Kind          string            `mapstructure:"kind"`
	URL           string            `mapstructure:"url"`
	SubstituteURL string            `mapstructure:"substitute_url"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	Headers       map[string]string `mapstructure:"headers"`
}

// HousekeepingConfig schedules background jobs with cron specs.
type HousekeepingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BackoffCheck   string        `mapstructure:"backoff_check"`
	HealthSnapshot string        `mapstructure:"health_snapshot"`
	PruneEvents    string        `mapstructure:"prune_events"`
	EventRetention time.Duration `mapstructure:"event_retention"`
}
