package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IsHandled reports whether a target was performed, skipped, or
// substituted before.
func (s *Store) IsHandled(ctx context.Context, id string) (bool, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return false, err
	}

	var n int
	row := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM handled_targets WHERE target_id = ?`, strings.TrimSpace(id))
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("lookup handled target: %w", err)
	}
	return n > 0, nil
}

// MarkHandled records the outcome for a target, replacing any earlier one.
func (s *Store) MarkHandled(ctx context.Context, id, outcome string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("target id is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO handled_targets (target_id, outcome, handled_at)
		VALUES (?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET
			outcome = excluded.outcome,
			handled_at = excluded.handled_at
	`, id, outcome, s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store handled target: %w", err)
	}
	return nil
}

// HandledCounts returns the number of handled targets per outcome.
func (s *Store) HandledCounts(ctx context.Context) (map[string]int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT outcome, COUNT(1)
		FROM handled_targets
		GROUP BY outcome
		ORDER BY outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("count handled targets: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("count handled targets: %w", err)
		}
		counts[outcome] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count handled targets: %w", err)
	}
	return counts, nil
}
