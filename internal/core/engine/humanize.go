package engine

import (
	"math"
	"time"

	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// HumanizeConfig bounds the human-timing generators.
type HumanizeConfig struct {
	MinWPM            float64
	MaxWPM            float64
	TypingJitter      float64
	MinKeystrokeDelay time.Duration
	TypoProbability   float64

	MinScrollStep  int
	MaxScrollStep  int
	MinScrollDelay time.Duration
	MaxScrollDelay time.Duration

	PointerStepPixels int
	MinPointerSteps   int
	MinPointerDelay   time.Duration
	MaxPointerDelay   time.Duration

	MinReading         time.Duration
	MaxReading         time.Duration
	MinResearchScrolls int
	MaxResearchScrolls int
	MinResearchScroll  int
	MaxResearchScroll  int
}

// DefaultHumanizeConfig types at 40-80 WPM with a 2% typo rate.
func DefaultHumanizeConfig() HumanizeConfig {
	return HumanizeConfig{
		MinWPM:            40,
		MaxWPM:            80,
		TypingJitter:      0.3,
		MinKeystrokeDelay: 50 * time.Millisecond,
		TypoProbability:   0.02,

		MinScrollStep:  50,
		MaxScrollStep:  200,
		MinScrollDelay: 50 * time.Millisecond,
		MaxScrollDelay: 200 * time.Millisecond,

		PointerStepPixels: 50,
		MinPointerSteps:   10,
		MinPointerDelay:   20 * time.Millisecond,
		MaxPointerDelay:   100 * time.Millisecond,

		MinReading:         5 * time.Second,
		MaxReading:         20 * time.Second,
		MinResearchScrolls: 2,
		MaxResearchScrolls: 5,
		MinResearchScroll:  100,
		MaxResearchScroll:  500,
	}
}

// Validate checks generator ranges.
func (c HumanizeConfig) Validate() error {
	switch {
	case c.MinWPM <= 0 || c.MaxWPM < c.MinWPM:
		return apperrors.NewConfigurationError("behavior.typing_wpm", "invalid range %v-%v", c.MinWPM, c.MaxWPM)
	case c.TypoProbability < 0 || c.TypoProbability > 1:
		return apperrors.NewConfigurationError("behavior.typo_probability", "must be in [0, 1], got %v", c.TypoProbability)
	case c.TypingJitter < 0:
		return apperrors.NewConfigurationError("behavior.typing_jitter", "must not be negative")
	case c.MinScrollStep <= 0 || c.MaxScrollStep < c.MinScrollStep:
		return apperrors.NewConfigurationError("behavior.scroll_step", "invalid range %d-%d", c.MinScrollStep, c.MaxScrollStep)
	case c.PointerStepPixels <= 0 || c.MinPointerSteps < 1:
		return apperrors.NewConfigurationError("behavior.pointer", "step pixels and minimum steps must be positive")
	case c.MaxReading < c.MinReading || c.MaxResearchScrolls < c.MinResearchScrolls || c.MaxResearchScroll < c.MinResearchScroll:
		return apperrors.NewConfigurationError("behavior.research", "invalid research ranges")
	}
	return nil
}

// Keystroke is one key press in a typing plan. Backspace keystrokes carry
// no Key.
type Keystroke struct {
	Key       rune
	Backspace bool
	Delay     time.Duration
}

// ScrollStep is one incremental scroll.
type ScrollStep struct {
	Pixels int
	Delay  time.Duration
}

// PointerStep is one pointer move. X and Y are positions relative to the
// origin; DX and DY are the offsets from the previous step.
type PointerStep struct {
	X, Y   int
	DX, DY int
	Delay  time.Duration
}

// Research is a pre-action reading pass.
type Research struct {
	Reading     time.Duration
	Scrolls     []ScrollStep
	ReturnDelay time.Duration
}

const typoAlphabet = "qwertyuiopasdfghjklzxcvbnm"

// TypingPlan returns keystrokes for text at a sampled typing speed. With
// TypoProbability one wrong key is inserted at a position in [1, len-1] and
// immediately corrected with a backspace.
func (b *BehaviorInjector) TypingPlan(text string) []Keystroke {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	h := b.cfg.Humanize
	r := b.deps.Rand

	wpm := uniformFloat(r, h.MinWPM, h.MaxWPM)
	perChar := time.Duration(float64(time.Minute) / (wpm * 5))

	typoAt := -1
	if len(runes) >= 2 && r.Float64() < h.TypoProbability {
		typoAt = uniformInt(r, 1, len(runes)-1)
		b.count(func(s *BehaviorStats) { s.Typos++ })
	}

	keys := make([]Keystroke, 0, len(runes)+2)
	for i, ch := range runes {
		if i == typoAt {
			wrong := rune(typoAlphabet[r.Int64N(int64(len(typoAlphabet)))])
			keys = append(keys, Keystroke{Key: wrong}, Keystroke{Backspace: true})
		}
		keys = append(keys, Keystroke{Key: ch})
	}
	for i := range keys {
		jitter := time.Duration(r.NormFloat64() * float64(perChar) * h.TypingJitter)
		keys[i].Delay = max(h.MinKeystrokeDelay, perChar+jitter)
	}
	return keys
}

// ScrollPlan splits distance into at least two steps whose pixels sum
// exactly to distance. Negative distances scroll up.
func (b *BehaviorInjector) ScrollPlan(distance int) []ScrollStep {
	if distance == 0 {
		return nil
	}
	h := b.cfg.Humanize
	r := b.deps.Rand

	speed := uniformFloat(r, float64(h.MinScrollStep), float64(h.MaxScrollStep))
	steps := max(2, int(math.Abs(float64(distance))/speed))
	return b.splitScroll(distance, steps, h.MinScrollDelay, h.MaxScrollDelay)
}

// PointerPlan moves from the origin to (dx, dy) along a quadratic ease-in
// curve with one step per PointerStepPixels and at least MinPointerSteps.
// The final step lands exactly on the target.
func (b *BehaviorInjector) PointerPlan(dx, dy int) []PointerStep {
	h := b.cfg.Humanize
	r := b.deps.Rand

	distance := math.Hypot(float64(dx), float64(dy))
	steps := max(h.MinPointerSteps, int(distance/float64(h.PointerStepPixels)))

	out := make([]PointerStep, 0, steps)
	prevX, prevY := 0, 0
	for i := 1; i <= steps; i++ {
		progress := float64(i) / float64(steps)
		eased := progress * progress
		x := int(math.Round(float64(dx) * eased))
		y := int(math.Round(float64(dy) * eased))
		if i == steps {
			x, y = dx, dy
		}
		out = append(out, PointerStep{
			X:     x,
			Y:     y,
			DX:    x - prevX,
			DY:    y - prevY,
			Delay: uniformDuration(r, h.MinPointerDelay, h.MaxPointerDelay),
		})
		prevX, prevY = x, y
	}
	return out
}

// ResearchPlan samples a reading pass: a reading time plus a few downward
// scrolls spaced one to three seconds apart.
func (b *BehaviorInjector) ResearchPlan() Research {
	h := b.cfg.Humanize
	r := b.deps.Rand

	plan := Research{Reading: uniformDuration(r, h.MinReading, h.MaxReading)}
	scrolls := uniformInt(r, h.MinResearchScrolls, h.MaxResearchScrolls)
	for i := 0; i < scrolls; i++ {
		plan.Scrolls = append(plan.Scrolls, ScrollStep{
			Pixels: uniformInt(r, h.MinResearchScroll, h.MaxResearchScroll),
			Delay:  uniformDuration(r, time.Second, 3*time.Second),
		})
	}
	plan.ReturnDelay = uniformDuration(r, 500*time.Millisecond, 1500*time.Millisecond)
	b.count(func(s *BehaviorStats) { s.Researched++ })
	return plan
}

func (b *BehaviorInjector) splitScroll(distance, steps int, minDelay, maxDelay time.Duration) []ScrollStep {
	base := distance / steps
	remainder := distance - base*steps
	sign := 1
	if remainder < 0 {
		sign, remainder = -1, -remainder
	}

	out := make([]ScrollStep, steps)
	for i := range out {
		out[i].Pixels = base
		if i < remainder {
			out[i].Pixels += sign
		}
		out[i].Delay = uniformDuration(b.deps.Rand, minDelay, maxDelay)
	}
	return out
}
