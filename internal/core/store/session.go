package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadencectl/cadence/internal/core"
)

// LoadSession returns the stored session, or nil when none exists.
func (s *Store) LoadSession(ctx context.Context) (*core.SessionState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var (
		state         core.SessionState
		startedAt     int64
		lastActionAt  sql.NullInt64
		lastHandledID sql.NullString
		running       int
		crashed       int
		crashReason   sql.NullString
		updatedAt     int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT session_id, started_at, actions_count, skipped_count, substituted_count,
			failed_count, last_action_at, last_handled_id, running, crashed, crash_reason, updated_at
		FROM session_state
		WHERE id = 1
	`)

	if err := row.Scan(&state.SessionID, &startedAt, &state.ActionsCount, &state.SkippedCount,
		&state.SubstitutedCount, &state.FailedCount, &lastActionAt, &lastHandledID,
		&running, &crashed, &crashReason, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch session state: %w", err)
	}

	state.StartedAt = time.Unix(startedAt, 0).UTC()
	state.LastActionAt = fromNullUnix(lastActionAt)
	state.LastHandledID = lastHandledID.String
	state.Running = running != 0
	state.Crashed = crashed != 0
	state.CrashReason = crashReason.String
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &state, nil
}

// SaveSession persists the session state.
func (s *Store) SaveSession(ctx context.Context, state *core.SessionState) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.New("session state is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO session_state (id, session_id, started_at, actions_count, skipped_count,
			substituted_count, failed_count, last_action_at, last_handled_id, running,
			crashed, crash_reason, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			started_at = excluded.started_at,
			actions_count = excluded.actions_count,
			skipped_count = excluded.skipped_count,
			substituted_count = excluded.substituted_count,
			failed_count = excluded.failed_count,
			last_action_at = excluded.last_action_at,
			last_handled_id = excluded.last_handled_id,
			running = excluded.running,
			crashed = excluded.crashed,
			crash_reason = excluded.crash_reason,
			updated_at = excluded.updated_at
	`, state.SessionID, state.StartedAt.UTC().Unix(), state.ActionsCount, state.SkippedCount,
		state.SubstitutedCount, state.FailedCount, toNullUnix(state.LastActionAt),
		nullString(state.LastHandledID), boolInt(state.Running), boolInt(state.Crashed),
		nullString(state.CrashReason), state.UpdatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store session state: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
