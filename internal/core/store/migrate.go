package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS quota_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		date TEXT NOT NULL,
		action_count INTEGER NOT NULL DEFAULT 0,
		daily_limit INTEGER NOT NULL,
		backoff_multiplier REAL NOT NULL DEFAULT 1,
		last_action_at INTEGER,
		rate_limited_at INTEGER,
		limit_reached INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS session_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		session_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		actions_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		substituted_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		last_action_at INTEGER,
		last_handled_id TEXT,
		running INTEGER NOT NULL DEFAULT 0,
		crashed INTEGER NOT NULL DEFAULT 0,
		crash_reason TEXT,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS control_events (
		id TEXT PRIMARY KEY,
		recorded_at INTEGER NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		detail TEXT NOT NULL,
		fields TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_control_events_recorded ON control_events(recorded_at);`,
	`CREATE INDEX IF NOT EXISTS idx_control_events_category ON control_events(category, recorded_at);`,
	`CREATE TABLE IF NOT EXISTS handled_targets (
		target_id TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		handled_at INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if err := s.ensureColumn(ctx, "handled_targets", "handled_at", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}
