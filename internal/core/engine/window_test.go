package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

func newTestGate(t *testing.T, mutate func(*WindowConfig), r Rand) *WindowGate {
	t.Helper()
	cfg := DefaultWindowConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	if r == nil {
		r = midRand{}
	}
	gate, err := NewWindowGate(cfg, r)
	require.NoError(t, err)
	return gate
}

func TestWindowGateNightBlockPrecedence(t *testing.T) {
	gate := newTestGate(t, func(cfg *WindowConfig) {
		cfg.Windows = []core.ActivityWindow{{Start: 0, End: core.NewTimeOfDay(24, 0)}}
	}, NewRand(7))

	start := at(6, 0, 0)
	for minute := 0; minute < 24*60; minute += 7 {
		now := start.Add(time.Duration(minute) * time.Minute)
		hour := now.Hour()
		if hour >= 22 || hour < 8 {
			require.False(t, gate.IsActive(now), "night block must win at %s", now.Format("15:04"))
		} else {
			require.True(t, gate.IsActive(now), "whole-day window should be active at %s", now.Format("15:04"))
		}
	}
}

func TestWindowGateIsActive(t *testing.T) {
	gate := newTestGate(t, nil, nil)

	assert.True(t, gate.IsActive(at(6, 10, 0)))
	assert.True(t, gate.IsActive(at(6, 11, 0)), "end boundary is inclusive")
	assert.False(t, gate.IsActive(at(6, 12, 0)))
	assert.True(t, gate.IsActive(at(6, 20, 59)))
	assert.False(t, gate.IsActive(at(6, 23, 0)))
}

func TestWindowGateJitterShiftsBothBoundaries(t *testing.T) {
	// Int64N(45) returning 0 yields a -22 minute offset.
	gate := newTestGate(t, nil, &scriptedRand{ints: []int64{0}})
	assert.True(t, gate.IsActive(at(6, 8, 40)))

	gate = newTestGate(t, nil, &scriptedRand{ints: []int64{0, 0, 0}})
	assert.False(t, gate.IsActive(at(6, 10, 50)))

	// Int64N(45) returning 44 yields +22 minutes.
	gate = newTestGate(t, nil, &scriptedRand{ints: []int64{44}})
	assert.True(t, gate.IsActive(at(6, 11, 15)))
}

func TestWindowGateNextWindowStart(t *testing.T) {
	gate := newTestGate(t, nil, nil)

	t.Run("ActiveReturnsNow", func(t *testing.T) {
		now := at(6, 9, 30)
		assert.Equal(t, now, gate.NextWindowStart(now))
	})

	t.Run("LaterToday", func(t *testing.T) {
		assert.Equal(t, at(6, 13, 0), gate.NextWindowStart(at(6, 11, 30)))
	})

	t.Run("EarlyMorning", func(t *testing.T) {
		assert.Equal(t, at(6, 9, 0), gate.NextWindowStart(at(6, 2, 0)))
	})

	t.Run("Tomorrow", func(t *testing.T) {
		assert.Equal(t, at(7, 9, 0), gate.NextWindowStart(at(6, 21, 30)))
	})

	t.Run("StartInsideNightBlockMovesToNightEnd", func(t *testing.T) {
		early := newTestGate(t, func(cfg *WindowConfig) {
			cfg.Windows = []core.ActivityWindow{{Start: core.NewTimeOfDay(7, 0), End: core.NewTimeOfDay(10, 0)}}
		}, nil)
		assert.Equal(t, at(6, 8, 0), early.NextWindowStart(at(6, 5, 0)))
	})

	t.Run("Vacation", func(t *testing.T) {
		vacation := newTestGate(t, func(cfg *WindowConfig) { cfg.Vacation = true }, nil)
		assert.False(t, vacation.IsActive(at(6, 10, 0)))
		assert.True(t, vacation.NextWindowStart(at(6, 10, 0)).IsZero())
	})
}

func TestWindowGateNoWindowsAllowsWholeDay(t *testing.T) {
	gate := newTestGate(t, func(cfg *WindowConfig) { cfg.Windows = nil }, nil)

	assert.True(t, gate.IsActive(at(6, 12, 0)))
	assert.False(t, gate.IsActive(at(6, 3, 0)))
	assert.Equal(t, at(6, 8, 0), gate.NextWindowStart(at(6, 3, 0)))
}

func TestWindowGateLightDays(t *testing.T) {
	gate := newTestGate(t, func(cfg *WindowConfig) {
		cfg.Holidays = []string{"2025-01-01"}
	}, nil)

	// 2025-01-04 is a Saturday.
	assert.True(t, gate.IsLightDay(at(4, 10, 0)))
	assert.Equal(t, 0.5, gate.QuotaMultiplier(at(4, 10, 0)))
	assert.True(t, gate.IsActive(at(4, 10, 0)), "light days are still active")

	assert.Equal(t, 1.0, gate.QuotaMultiplier(at(6, 10, 0)))
	assert.Equal(t, 0.5, gate.QuotaMultiplier(at(1, 10, 0)))
}

func TestWindowGateLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	gate := newTestGate(t, func(cfg *WindowConfig) { cfg.Location = loc }, nil)

	// 08:00 UTC is 10:00 local.
	assert.True(t, gate.IsActive(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)))
}

func TestWindowConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WindowConfig)
	}{
		{"EndBeforeStart", func(cfg *WindowConfig) {
			cfg.Windows = []core.ActivityWindow{{Start: core.NewTimeOfDay(11, 0), End: core.NewTimeOfDay(9, 0)}}
		}},
		{"NegativeJitter", func(cfg *WindowConfig) { cfg.Jitter = -time.Minute }},
		{"ZeroMultiplier", func(cfg *WindowConfig) { cfg.LightDayMultiplier = 0 }},
		{"BadHoliday", func(cfg *WindowConfig) { cfg.Holidays = []string{"01/01/2025"} }},
		{"EmptyNightBlock", func(cfg *WindowConfig) { cfg.NightEnd = cfg.NightStart }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWindowConfig()
			tt.mutate(&cfg)
			_, err := NewWindowGate(cfg, midRand{})
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err))
		})
	}
}
