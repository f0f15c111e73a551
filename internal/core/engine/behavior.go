package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// BehaviorConfig holds the probabilities for per-action behavior injection.
type BehaviorConfig struct {
	PauseProbability      float64
	MinPause              time.Duration
	MaxPause              time.Duration
	SubstituteProbability float64
	SkipProbability       float64
	MicroBreakEvery       int
	MinMicroBreak         time.Duration
	MaxMicroBreak         time.Duration
	Humanize              HumanizeConfig
}

// DefaultBehaviorConfig returns the stock injection rates.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		PauseProbability:      0.08,
		MinPause:              30 * time.Second,
		MaxPause:              180 * time.Second,
		SubstituteProbability: 0.15,
		SkipProbability:       0.05,
		MicroBreakEvery:       5,
		MinMicroBreak:         60 * time.Second,
		MaxMicroBreak:         180 * time.Second,
		Humanize:              DefaultHumanizeConfig(),
	}
}

// Validate checks that probabilities lie in [0, 1] and ranges are ordered.
func (c BehaviorConfig) Validate() error {
	probabilities := []struct {
		key   string
		value float64
	}{
		{"behavior.pause_probability", c.PauseProbability},
		{"behavior.substitute_probability", c.SubstituteProbability},
		{"behavior.skip_probability", c.SkipProbability},
	}
	for _, p := range probabilities {
		if p.value < 0 || p.value > 1 {
			return apperrors.NewConfigurationError(p.key, "must be in [0, 1], got %v", p.value)
		}
	}
	if c.MinPause < 0 || c.MaxPause < c.MinPause {
		return apperrors.NewConfigurationError("behavior.pause", "invalid range %s-%s", c.MinPause, c.MaxPause)
	}
	if c.MicroBreakEvery < 0 {
		return apperrors.NewConfigurationError("behavior.micro_break_every", "must not be negative")
	}
	if c.MinMicroBreak < 0 || c.MaxMicroBreak < c.MinMicroBreak {
		return apperrors.NewConfigurationError("behavior.micro_break", "invalid range %s-%s", c.MinMicroBreak, c.MaxMicroBreak)
	}
	return c.Humanize.Validate()
}

// BehaviorStats counts injected behaviors since start.
type BehaviorStats struct {
	Pauses        int `json:"pauses"`
	Substitutions int `json:"substitutions"`
	Skips         int `json:"skips"`
	MicroBreaks   int `json:"micro_breaks"`
	Typos         int `json:"typos"`
	Researched    int `json:"researched"`
}

var pauseReasons = []string{
	"checking email",
	"reading news",
	"coffee break",
	"answering a message",
	"thinking it over",
}

// BehaviorInjector randomizes the worker's visible behavior.
type BehaviorInjector struct {
	cfg  BehaviorConfig
	deps Deps

	mu    sync.Mutex
	stats BehaviorStats
}

// NewBehaviorInjector validates cfg.
func NewBehaviorInjector(cfg BehaviorConfig, deps Deps) (*BehaviorInjector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BehaviorInjector{cfg: cfg, deps: deps.withDefaults()}, nil
}

// Decide draws pause, substitute and skip in that order, each independently;
// the first draw that fires wins, so a target is altered with probability
// 1-(1-pause)(1-substitute)(1-skip). Faults degrade to proceed.
func (b *BehaviorInjector) Decide() (decision core.BehaviorDecision) {
	defer func() {
		if r := recover(); r != nil {
			b.deps.Logger.Error("behavior decision failed, proceeding",
				zap.String("panic", fmt.Sprint(r)))
			decision = core.BehaviorDecision{Kind: core.BehaviorProceed}
		}
	}()

	r := b.deps.Rand
	if r.Float64() < b.cfg.PauseProbability {
		reason := pauseReasons[r.Int64N(int64(len(pauseReasons)))]
		b.count(func(s *BehaviorStats) { s.Pauses++ })
		return core.BehaviorDecision{
			Kind:     core.BehaviorPause,
			Duration: uniformDuration(r, b.cfg.MinPause, b.cfg.MaxPause),
			Reason:   reason,
		}
	}
	if r.Float64() < b.cfg.SubstituteProbability {
		b.count(func(s *BehaviorStats) { s.Substitutions++ })
		return core.BehaviorDecision{Kind: core.BehaviorSubstitute, Reason: "save for later"}
	}
	if r.Float64() < b.cfg.SkipProbability {
		b.count(func(s *BehaviorStats) { s.Skips++ })
		return core.BehaviorDecision{Kind: core.BehaviorSkip, Reason: "intentional skip"}
	}
	return core.BehaviorDecision{Kind: core.BehaviorProceed}
}

// AfterAction returns a micro-break pause after every MicroBreakEvery
// completed actions, otherwise proceed.
func (b *BehaviorInjector) AfterAction(completed int) (decision core.BehaviorDecision) {
	defer func() {
		if r := recover(); r != nil {
			b.deps.Logger.Error("micro-break decision failed, proceeding",
				zap.String("panic", fmt.Sprint(r)))
			decision = core.BehaviorDecision{Kind: core.BehaviorProceed}
		}
	}()

	every := b.cfg.MicroBreakEvery
	if every <= 0 || completed <= 0 || completed%every != 0 {
		return core.BehaviorDecision{Kind: core.BehaviorProceed}
	}
	b.count(func(s *BehaviorStats) { s.MicroBreaks++ })
	return core.BehaviorDecision{
		Kind:     core.BehaviorPause,
		Duration: uniformDuration(b.deps.Rand, b.cfg.MinMicroBreak, b.cfg.MaxMicroBreak),
		Reason:   "micro-break",
	}
}

// Stats returns a copy of the counters.
func (b *BehaviorInjector) Stats() BehaviorStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *BehaviorInjector) count(fn func(*BehaviorStats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}
