package core

import "time"

// QuotaState captures the persisted daily quota and backoff state.
type QuotaState struct {
	Date              string     `json:"date"`
	Count             int        `json:"count"`
	Limit             int        `json:"limit"`
	BackoffMultiplier float64    `json:"backoff_multiplier"`
	LastActionAt      *time.Time `json:"last_action_at,omitempty"`
	RateLimitedAt     *time.Time `json:"rate_limited_at,omitempty"`
	LimitReached      bool       `json:"limit_reached"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// QuotaProgress reports the day's usage.
type QuotaProgress struct {
	Date              string     `json:"date"`
	Count             int        `json:"count"`
	EffectiveLimit    int        `json:"effective_limit"`
	Remaining         int        `json:"remaining"`
	PercentUsed       float64    `json:"percent_used"`
	LimitReached      bool       `json:"limit_reached"`
	BackoffMultiplier float64    `json:"backoff_multiplier"`
	RateLimited       bool       `json:"rate_limited"`
	LastActionAt      *time.Time `json:"last_action_at,omitempty"`
}
