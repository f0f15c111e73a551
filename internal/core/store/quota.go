package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadencectl/cadence/internal/core"
)

// LoadQuota returns the stored quota state, or nil when none exists.
func (s *Store) LoadQuota(ctx context.Context) (*core.QuotaState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var (
		state         core.QuotaState
		lastActionAt  sql.NullInt64
		rateLimitedAt sql.NullInt64
		limitReached  int
		updatedAt     int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT date, action_count, daily_limit, backoff_multiplier,
			last_action_at, rate_limited_at, limit_reached, updated_at
		FROM quota_state
		WHERE id = 1
	`)

	if err := row.Scan(&state.Date, &state.Count, &state.Limit, &state.BackoffMultiplier,
		&lastActionAt, &rateLimitedAt, &limitReached, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch quota state: %w", err)
	}

	state.LastActionAt = fromNullUnix(lastActionAt)
	state.RateLimitedAt = fromNullUnix(rateLimitedAt)
	state.LimitReached = limitReached != 0
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &state, nil
}

// SaveQuota persists the quota state.
func (s *Store) SaveQuota(ctx context.Context, state *core.QuotaState) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.New("quota state is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO quota_state (id, date, action_count, daily_limit, backoff_multiplier,
			last_action_at, rate_limited_at, limit_reached, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			action_count = excluded.action_count,
			daily_limit = excluded.daily_limit,
			backoff_multiplier = excluded.backoff_multiplier,
			last_action_at = excluded.last_action_at,
			rate_limited_at = excluded.rate_limited_at,
			limit_reached = excluded.limit_reached,
			updated_at = excluded.updated_at
	`, state.Date, state.Count, state.Limit, state.BackoffMultiplier,
		toNullUnix(state.LastActionAt), toNullUnix(state.RateLimitedAt),
		boolInt(state.LimitReached), state.UpdatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store quota state: %w", err)
	}

	return nil
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	value := time.Unix(v.Int64, 0).UTC()
	return &value
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
