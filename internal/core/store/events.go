package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cadencectl/cadence/internal/core"
)

const defaultEventLimit = 50

// EventQuery filters ListEvents. Zero values match everything; Limit
// defaults to 50.
type EventQuery struct {
	Category core.RecordCategory
	Since    time.Time
	Limit    int
}

func (q EventQuery) whereClause() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if category := strings.TrimSpace(string(q.Category)); category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, category)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, q.Since.UTC().Unix())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// AppendEvent persists a control record.
func (s *Store) AppendEvent(ctx context.Context, record core.ControlRecord) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("record id is required")
	}

	var fields sql.NullString
	if len(record.Fields) > 0 {
		data, err := json.Marshal(record.Fields)
		if err != nil {
			return fmt.Errorf("encode record fields: %w", err)
		}
		fields = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO control_events (id, recorded_at, category, severity, detail, fields)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, record.ID, record.Timestamp.UTC().Unix(), string(record.Category),
		string(record.Severity), record.Detail, fields)
	if err != nil {
		return fmt.Errorf("store control record: %w", err)
	}
	return nil
}

// ListEvents returns matching records, newest first.
func (s *Store) ListEvents(ctx context.Context, q EventQuery) ([]core.ControlRecord, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	where, args := q.whereClause()
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, recorded_at, category, severity, detail, fields
		FROM control_events
		%s
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list control records: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []core.ControlRecord{}
	for rows.Next() {
		var (
			record     core.ControlRecord
			recordedAt int64
			category   string
			severity   string
			fields     sql.NullString
		)
		if err := rows.Scan(&record.ID, &recordedAt, &category, &severity, &record.Detail, &fields); err != nil {
			return nil, fmt.Errorf("scan control record: %w", err)
		}
		record.Timestamp = time.Unix(recordedAt, 0).UTC()
		record.Category = core.RecordCategory(category)
		record.Severity = core.Severity(severity)
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &record.Fields); err != nil {
				return nil, fmt.Errorf("decode fields of record %s: %w", record.ID, err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list control records: %w", err)
	}
	return records, nil
}

// PruneEvents deletes records older than before and returns how many were
// removed.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM control_events WHERE recorded_at < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune control records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune control records: %w", err)
	}
	return n, nil
}
