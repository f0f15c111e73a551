package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// PlatformRule matches a platform by name in the URL or by any phrase in
// the page content.
type PlatformRule struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Phrases []string `mapstructure:"phrases" yaml:"phrases"`
}

// ChallengeRule matches a challenge category by any phrase in the content.
type ChallengeRule struct {
	Category string   `mapstructure:"category" yaml:"category"`
	Phrases  []string `mapstructure:"phrases" yaml:"phrases"`
}

// ClassifierConfig lists the skip rules in evaluation order.
type ClassifierConfig struct {
	Platforms    []PlatformRule
	Challenges   []ChallengeRule
	SpamPhrases  []string
	MaxAge       time.Duration
	AvoidReposts bool
}

// DefaultClassifierConfig returns the stock platform, challenge and spam
// rules with a 48 hour age limit.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Platforms: []PlatformRule{
			{Name: "workday", Phrases: []string{"apply on workday", "workday", "myworkdayjobs"}},
			{Name: "myworkdayjobs"},
			{Name: "successfactors", Phrases: []string{"successfactors"}},
			{Name: "oraclecloud"},
			{Name: "icims", Phrases: []string{"icims"}},
			{Name: "greenhouse", Phrases: []string{"powered by greenhouse", "greenhouse"}},
			{Name: "lever", Phrases: []string{"lever"}},
			{Name: "ashby"},
		},
		Challenges: []ChallengeRule{
			{Category: "captcha", Phrases: []string{"check your browser", "recaptcha", "h-captcha", "i'm not a robot", "verify that you're human"}},
			{Category: "otp", Phrases: []string{"enter the code", "6-digit code", "code sent to", "verification code"}},
			{Category: "phone_verification", Phrases: []string{"verify with your phone", "phone number", "send code to phone"}},
			{Category: "assessment", Phrases: []string{"assessment", "take test", "coding challenge", "skills test"}},
			{Category: "video_interview", Phrases: []string{"video interview", "record yourself", "one-way video"}},
		},
		SpamPhrases:  []string{"promote", "make money", "work from home", "flexible hours", "no experience needed"},
		MaxAge:       48 * time.Hour,
		AvoidReposts: true,
	}
}

// Validate rejects empty rule names.
func (c ClassifierConfig) Validate() error {
	for i, p := range c.Platforms {
		if strings.TrimSpace(p.Name) == "" {
			return apperrors.NewConfigurationError("classifier.platforms", "rule %d has no name", i)
		}
	}
	for i, ch := range c.Challenges {
		if strings.TrimSpace(ch.Category) == "" {
			return apperrors.NewConfigurationError("classifier.challenges", "rule %d has no category", i)
		}
	}
	if c.MaxAge < 0 {
		return apperrors.NewConfigurationError("classifier.max_age", "must not be negative")
	}
	return nil
}

// DetailAlreadyHandled is the relevance detail for targets seen before.
const DetailAlreadyHandled = "already handled"

// HandledIndex remembers targets that were already acted on or skipped.
type HandledIndex interface {
	IsHandled(ctx context.Context, targetID string) (bool, error)
	MarkHandled(ctx context.Context, targetID, outcome string) error
}

// SkipStats counts positive verdicts.
type SkipStats struct {
	Total    int                     `json:"total"`
	ByReason map[core.SkipReason]int `json:"by_reason"`
	ByDetail map[string]int          `json:"by_detail"`
}

// DetectionClassifier decides whether a target should be bypassed before
// any quota is spent on it.
type DetectionClassifier struct {
	cfg     ClassifierConfig
	handled HandledIndex
	deps    Deps

	mu    sync.Mutex
	stats SkipStats
}

// NewDetectionClassifier lowercases every phrase once. handled may be nil.
func NewDetectionClassifier(cfg ClassifierConfig, handled HandledIndex, deps Deps) (*DetectionClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	normalized := cfg
	normalized.Platforms = make([]PlatformRule, len(cfg.Platforms))
	for i, p := range cfg.Platforms {
		normalized.Platforms[i] = PlatformRule{Name: strings.ToLower(p.Name), Phrases: lowerAll(p.Phrases)}
	}
	normalized.Challenges = make([]ChallengeRule, len(cfg.Challenges))
	for i, ch := range cfg.Challenges {
		normalized.Challenges[i] = ChallengeRule{Category: ch.Category, Phrases: lowerAll(ch.Phrases)}
	}
	normalized.SpamPhrases = lowerAll(cfg.SpamPhrases)

	return &DetectionClassifier{
		cfg:     normalized,
		handled: handled,
		deps:    deps.withDefaults(),
		stats: SkipStats{
			ByReason: make(map[core.SkipReason]int),
			ByDetail: make(map[string]int),
		},
	}, nil
}

// Classify runs the platform, challenge and relevance checks in order and
// returns the first positive verdict.
func (c *DetectionClassifier) Classify(ctx context.Context, target core.Target) core.SkipVerdict {
	if v := c.ClassifyPlatform(target.URL, target.Content); v.Skip {
		return v
	}
	if v := c.ClassifyChallenge(target.Content); v.Skip {
		return v
	}
	return c.ClassifyRelevance(ctx, target)
}

// ClassifyPlatform matches rule names against the URL and rule phrases
// against the content, case-insensitively.
func (c *DetectionClassifier) ClassifyPlatform(url, content string) (verdict core.SkipVerdict) {
	defer c.recoverVerdict("platform", &verdict)

	url = strings.ToLower(url)
	content = strings.ToLower(content)
	for _, rule := range c.cfg.Platforms {
		if url != "" && strings.Contains(url, rule.Name) {
			return c.skip(core.SkipPlatform, rule.Name)
		}
		if containsAny(content, rule.Phrases) {
			return c.skip(core.SkipPlatform, rule.Name)
		}
	}
	return core.NoSkip()
}

// ClassifyChallenge returns the first challenge category with a phrase
// present in the content.
func (c *DetectionClassifier) ClassifyChallenge(content string) (verdict core.SkipVerdict) {
	defer c.recoverVerdict("challenge", &verdict)

	content = strings.ToLower(content)
	for _, rule := range c.cfg.Challenges {
		if containsAny(content, rule.Phrases) {
			return c.skip(core.SkipChallenge, rule.Category)
		}
	}
	return core.NoSkip()
}

// ClassifyRelevance checks, in order: already handled, spam phrases in the
// title or organization, age, and reposts.
func (c *DetectionClassifier) ClassifyRelevance(ctx context.Context, target core.Target) (verdict core.SkipVerdict) {
	defer c.recoverVerdict("relevance", &verdict)

	if target.AlreadyHandled || c.isHandled(ctx, target.ID) {
		return c.skip(core.SkipRelevance, DetailAlreadyHandled)
	}

	title := strings.ToLower(target.Title)
	organization := strings.ToLower(target.Organization)
	for _, phrase := range c.cfg.SpamPhrases {
		if strings.Contains(title, phrase) || strings.Contains(organization, phrase) {
			return c.skip(core.SkipRelevance, "spam: "+phrase)
		}
	}

	if c.cfg.MaxAge > 0 && target.Age > c.cfg.MaxAge {
		return c.skip(core.SkipRelevance, fmt.Sprintf("too old: %s", target.Age.Round(time.Minute)))
	}
	if c.cfg.AvoidReposts && target.Repost {
		return c.skip(core.SkipRelevance, "repost")
	}
	return core.NoSkip()
}

// Stats returns a copy of the skip counters.
func (c *DetectionClassifier) Stats() SkipStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := SkipStats{
		Total:    c.stats.Total,
		ByReason: make(map[core.SkipReason]int, len(c.stats.ByReason)),
		ByDetail: make(map[string]int, len(c.stats.ByDetail)),
	}
	for k, v := range c.stats.ByReason {
		out.ByReason[k] = v
	}
	for k, v := range c.stats.ByDetail {
		out.ByDetail[k] = v
	}
	return out
}

func (c *DetectionClassifier) isHandled(ctx context.Context, id string) bool {
	if c.handled == nil || id == "" {
		return false
	}
	handled, err := c.handled.IsHandled(ctx, id)
	if err != nil {
		c.deps.Logger.Warn("handled index lookup failed",
			zap.String("target_id", id),
			zap.Error(apperrors.NewPersistenceError("lookup handled", err)))
		return false
	}
	return handled
}

func (c *DetectionClassifier) skip(reason core.SkipReason, detail string) core.SkipVerdict {
	c.mu.Lock()
	c.stats.Total++
	c.stats.ByReason[reason]++
	c.stats.ByDetail[detail]++
	c.mu.Unlock()
	return core.SkipVerdict{Skip: true, Reason: reason, Detail: detail}
}

func (c *DetectionClassifier) recoverVerdict(check string, verdict *core.SkipVerdict) {
	if r := recover(); r != nil {
		c.deps.Logger.Error("classification failed, not skipping",
			zap.String("check", check),
			zap.String("panic", fmt.Sprint(r)))
		*verdict = core.NoSkip()
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
