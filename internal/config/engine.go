package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// Store drivers.
const (
	DriverLibsql = "libsql"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Executor kinds.
const (
	ExecutorDryRun  = "dry-run"
	ExecutorWebhook = "webhook"
)

// EngineConfig holds the component configs derived from Config.
type EngineConfig struct {
	Window     engine.WindowConfig
	Quota      engine.QuotaConfig
	Behavior   engine.BehaviorConfig
	Classifier engine.ClassifierConfig
	Risk       engine.RiskConfig
	Controller engine.ControllerConfig
}

// Validate checks every section, returning the first
// *errors.ConfigurationError found.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverLibsql, DriverSQLite, DriverFile:
	default:
		return apperrors.NewConfigurationError("store.driver", "unsupported driver %q", c.Store.Driver)
	}

	switch c.Executor.Kind {
	case ExecutorDryRun:
	case ExecutorWebhook:
		if strings.TrimSpace(c.Executor.URL) == "" {
			return apperrors.NewConfigurationError("executor.url", "required for the webhook executor")
		}
	default:
		return apperrors.NewConfigurationError("executor.kind", "unsupported executor %q", c.Executor.Kind)
	}
	if c.Executor.Timeout < 0 {
		return apperrors.NewConfigurationError("executor.timeout", "must not be negative")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return apperrors.NewConfigurationError("server.port", "out of range: %d", c.Server.Port)
	}
	if c.Housekeeping.EventRetention < 0 {
		return apperrors.NewConfigurationError("housekeeping.event_retention", "must not be negative")
	}

	ec, err := c.Engine()
	if err != nil {
		return err
	}
	validators := []func() error{
		ec.Window.Validate,
		ec.Quota.Validate,
		ec.Behavior.Validate,
		ec.Classifier.Validate,
		ec.Risk.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// Engine maps the configuration onto the engine component configs.
// Unspecified classifier rules and ring capacities keep engine defaults.
func (c *Config) Engine() (EngineConfig, error) {
	loc, err := loadLocation(c.Schedule.Timezone)
	if err != nil {
		return EngineConfig{}, err
	}

	window, err := c.windowConfig(loc)
	if err != nil {
		return EngineConfig{}, err
	}

	quota := engine.QuotaConfig{
		DailyLimit:              c.Quota.DailyLimit,
		MinDelay:                c.Quota.MinDelay,
		MaxDelay:                c.Quota.MaxDelay,
		MaxBackoffDelay:         c.Quota.MaxBackoffDelay,
		BackoffFactor:           c.Quota.BackoffFactor,
		AdaptiveBackoff:         c.Quota.AdaptiveBackoff,
		BackoffCooldown:         c.Quota.BackoffCooldown,
		RetainBackoffOnRollover: c.Quota.RetainBackoffOnRollover,
		Location:                loc,
	}

	humanize := engine.DefaultHumanizeConfig()
	humanize.MinWPM = c.Behavior.MinWPM
	humanize.MaxWPM = c.Behavior.MaxWPM
	humanize.TypoProbability = c.Behavior.TypoProbability
	humanize.MinReading = c.Behavior.MinReading
	humanize.MaxReading = c.Behavior.MaxReading

	behavior := engine.BehaviorConfig{
		PauseProbability:      c.Behavior.PauseProbability,
		MinPause:              c.Behavior.MinPause,
		MaxPause:              c.Behavior.MaxPause,
		SubstituteProbability: c.Behavior.SubstituteProbability,
		SkipProbability:       c.Behavior.SkipProbability,
		MicroBreakEvery:       c.Behavior.MicroBreakEvery,
		MinMicroBreak:         c.Behavior.MinMicroBreak,
		MaxMicroBreak:         c.Behavior.MaxMicroBreak,
		Humanize:              humanize,
	}

	classifier := engine.DefaultClassifierConfig()
	if len(c.Classifier.Platforms) > 0 {
		classifier.Platforms = c.Classifier.Platforms
	}
	if len(c.Classifier.Challenges) > 0 {
		classifier.Challenges = c.Classifier.Challenges
	}
	if len(c.Classifier.SpamPhrases) > 0 {
		classifier.SpamPhrases = c.Classifier.SpamPhrases
	}
	classifier.MaxAge = c.Classifier.MaxAge
	classifier.AvoidReposts = c.Classifier.AvoidReposts

	risk := engine.DefaultRiskConfig()
	risk.MaxActionsPerHour = c.Risk.MaxActionsPerHour
	risk.MaxFailedLoginsPerDay = c.Risk.MaxFailedLoginsPerDay
	risk.MaxErrorsPerHour = c.Risk.MaxErrorsPerHour
	risk.LocationLookback = c.Risk.LocationLookback
	risk.UnusualStartHour = c.Risk.UnusualStartHour
	risk.UnusualEndHour = c.Risk.UnusualEndHour
	risk.HealthyThreshold = c.Risk.HealthyThreshold
	risk.WarningThreshold = c.Risk.WarningThreshold
	risk.Location = loc

	return EngineConfig{
		Window:     window,
		Quota:      quota,
		Behavior:   behavior,
		Classifier: classifier,
		Risk:       risk,
		Controller: engine.ControllerConfig{
			ExitWhenExhausted: c.Worker.ExitWhenExhausted,
			Research:          c.Worker.Research,
		},
	}, nil
}

func (c *Config) windowConfig(loc *time.Location) (engine.WindowConfig, error) {
	cfg := engine.WindowConfig{
		Jitter:             c.Schedule.Jitter,
		NightBlockEnabled:  c.Schedule.NightBlock.Enabled,
		Holidays:           c.Schedule.Holidays,
		LightDayMultiplier: c.Schedule.LightDayMultiplier,
		Vacation:           c.Schedule.Vacation,
		Location:           loc,
	}

	for _, raw := range c.Schedule.Windows {
		w, err := ParseWindow(raw)
		if err != nil {
			return engine.WindowConfig{}, apperrors.NewConfigurationError("schedule.windows", "%v", err)
		}
		cfg.Windows = append(cfg.Windows, w)
	}

	if cfg.NightBlockEnabled {
		start, err := ParseTimeOfDay(c.Schedule.NightBlock.Start)
		if err != nil {
			return engine.WindowConfig{}, apperrors.NewConfigurationError("schedule.night_block.start", "%v", err)
		}
		end, err := ParseTimeOfDay(c.Schedule.NightBlock.End)
		if err != nil {
			return engine.WindowConfig{}, apperrors.NewConfigurationError("schedule.night_block.end", "%v", err)
		}
		cfg.NightStart, cfg.NightEnd = start, end
	}

	for _, raw := range c.Schedule.LightDays {
		day, err := ParseWeekday(raw)
		if err != nil {
			return engine.WindowConfig{}, apperrors.NewConfigurationError("schedule.light_days", "%v", err)
		}
		cfg.LightDays = append(cfg.LightDays, day)
	}
	return cfg, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperrors.NewConfigurationError("schedule.timezone", "unknown timezone %q", name)
	}
	return loc, nil
}

// ParseTimeOfDay parses HH:MM. 24:00 is accepted as end of day.
func ParseTimeOfDay(raw string) (core.TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", raw)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time %q out of range", raw)
	}
	return core.NewTimeOfDay(hour, minute), nil
}

// ParseWindow parses HH:MM-HH:MM.
func ParseWindow(raw string) (core.ActivityWindow, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return core.ActivityWindow{}, fmt.Errorf("invalid window %q, want HH:MM-HH:MM", raw)
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return core.ActivityWindow{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return core.ActivityWindow{}, err
	}
	return core.ActivityWindow{Start: s, End: e}, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(raw string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || (len(name) == 3 && strings.HasPrefix(full, name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", raw)
}
