package engine

import (
	"cmp"
	"slices"
	"time"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// WindowConfig configures the activity window gate.
type WindowConfig struct {
	Windows            []core.ActivityWindow
	Jitter             time.Duration
	NightBlockEnabled  bool
	NightStart         core.TimeOfDay
	NightEnd           core.TimeOfDay
	LightDays          []time.Weekday
	Holidays           []string
	LightDayMultiplier float64
	Vacation           bool
	Location           *time.Location
}

// DefaultWindowConfig mirrors the morning, afternoon and evening windows
// with a 22:00-08:00 night block and half quota on weekends.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Windows: []core.ActivityWindow{
			{Start: core.NewTimeOfDay(9, 0), End: core.NewTimeOfDay(11, 0)},
			{Start: core.NewTimeOfDay(13, 0), End: core.NewTimeOfDay(15, 0)},
			{Start: core.NewTimeOfDay(18, 0), End: core.NewTimeOfDay(21, 0)},
		},
		Jitter:             22 * time.Minute,
		NightBlockEnabled:  true,
		NightStart:         core.NewTimeOfDay(22, 0),
		NightEnd:           core.NewTimeOfDay(8, 0),
		LightDays:          []time.Weekday{time.Saturday, time.Sunday},
		LightDayMultiplier: 0.5,
		Location:           time.UTC,
	}
}

// Validate checks window bounds.
func (c WindowConfig) Validate() error {
	for i, w := range c.Windows {
		if w.Start < 0 || w.End > core.TimeOfDay(24*time.Hour) {
			return apperrors.NewConfigurationError("schedule.windows", "window %d (%s-%s) is outside the day", i, w.Start, w.End)
		}
		if w.End <= w.Start {
			return apperrors.NewConfigurationError("schedule.windows", "window %d (%s-%s) must end after it starts", i, w.Start, w.End)
		}
	}
	if c.Jitter < 0 {
		return apperrors.NewConfigurationError("schedule.jitter", "must not be negative")
	}
	if c.NightBlockEnabled && c.NightStart == c.NightEnd {
		return apperrors.NewConfigurationError("schedule.night_block", "start and end must differ")
	}
	if c.LightDayMultiplier <= 0 || c.LightDayMultiplier > 1 {
		return apperrors.NewConfigurationError("schedule.light_day_multiplier", "must be in (0, 1], got %v", c.LightDayMultiplier)
	}
	for _, day := range c.Holidays {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			return apperrors.NewConfigurationError("schedule.holidays", "invalid date %q", day)
		}
	}
	return nil
}

// WindowGate decides whether the current wall-clock time falls inside an
// allowed activity window. Window boundaries are jittered on every
// evaluation, so two queries at the same instant may disagree.
type WindowGate struct {
	cfg  WindowConfig
	rand Rand
}

// NewWindowGate validates cfg and returns a gate.
func NewWindowGate(cfg WindowConfig, r Rand) (*WindowGate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if r == nil {
		r = NewTimeSeededRand()
	}
	cfg.Windows = slices.Clone(cfg.Windows)
	slices.SortFunc(cfg.Windows, func(a, b core.ActivityWindow) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return &WindowGate{cfg: cfg, rand: r}, nil
}

// Vacation reports whether all activity is disabled.
func (g *WindowGate) Vacation() bool {
	return g.cfg.Vacation
}

// Location returns the zone windows are evaluated in.
func (g *WindowGate) Location() *time.Location {
	return g.cfg.Location
}

// IsActive reports whether now is inside any jittered window. The night
// block and vacation mode take precedence over the windows.
func (g *WindowGate) IsActive(now time.Time) bool {
	now = now.In(g.cfg.Location)
	if g.cfg.Vacation {
		return false
	}
	if g.InNightBlock(now) {
		return false
	}
	if len(g.cfg.Windows) == 0 {
		return true
	}

	for _, w := range g.cfg.Windows {
		jitter := g.sampleJitter()
		start := w.Start.On(now).Add(jitter)
		end := w.End.On(now).Add(jitter)
		if !now.Before(start) && !now.After(end) {
			return true
		}
	}
	return false
}

// NextWindowStart returns now when active, otherwise the earliest future
// jittered window start among today's remaining windows or tomorrow's
// first window. It returns the zero time in vacation mode.
func (g *WindowGate) NextWindowStart(now time.Time) time.Time {
	now = now.In(g.cfg.Location)
	if g.cfg.Vacation {
		return time.Time{}
	}
	if g.IsActive(now) {
		return now
	}
	if len(g.cfg.Windows) == 0 {
		return g.afterNightBlock(now)
	}

	var best time.Time
	for _, w := range g.cfg.Windows {
		candidate := g.afterNightBlock(w.Start.On(now).Add(g.sampleJitter()))
		if !candidate.After(now) {
			continue
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	if !best.IsZero() {
		return best
	}

	tomorrow := now.AddDate(0, 0, 1)
	first := g.cfg.Windows[0]
	return g.afterNightBlock(first.Start.On(tomorrow).Add(g.sampleJitter()))
}

// IsLightDay reports whether now falls on a reduced-quota day.
func (g *WindowGate) IsLightDay(now time.Time) bool {
	now = now.In(g.cfg.Location)
	if slices.Contains(g.cfg.LightDays, now.Weekday()) {
		return true
	}
	return slices.Contains(g.cfg.Holidays, now.Format(time.DateOnly))
}

// QuotaMultiplier returns the light-day multiplier or 1.
func (g *WindowGate) QuotaMultiplier(now time.Time) float64 {
	if g.IsLightDay(now) {
		return g.cfg.LightDayMultiplier
	}
	return 1
}

// InNightBlock reports whether t falls inside the global night block.
func (g *WindowGate) InNightBlock(t time.Time) bool {
	if !g.cfg.NightBlockEnabled {
		return false
	}
	t = t.In(g.cfg.Location)
	tod := core.TimeOfDay(t.Sub(core.TimeOfDay(0).On(t)))
	start, end := g.cfg.NightStart, g.cfg.NightEnd
	if start > end {
		return tod >= start || tod < end
	}
	return tod >= start && tod < end
}

func (g *WindowGate) afterNightBlock(t time.Time) time.Time {
	if !g.InNightBlock(t) {
		return t
	}
	end := g.cfg.NightEnd.On(t)
	if !end.After(t) {
		end = g.cfg.NightEnd.On(t.AddDate(0, 0, 1))
	}
	return end
}

func (g *WindowGate) sampleJitter() time.Duration {
	minutes := int64(g.cfg.Jitter / time.Minute)
	if minutes <= 0 {
		return 0
	}
	return time.Duration(g.rand.Int64N(2*minutes+1)-minutes) * time.Minute
}
