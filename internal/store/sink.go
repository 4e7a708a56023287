package store

import (
	"context"
	"fmt"

	"github.com/jmartens/lifesync/internal/audit"
)

// Write persists a pass outcome to sync_logs, satisfying audit.Sink.
func (s *Store) Write(ctx context.Context, e *audit.Entry) error {
	s.calls.Add(1)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, entity, status, summary, changes, failures, error, elapsed_ms, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Entity, e.Status, e.Summary, e.Changes, e.Failures,
		e.Error, e.Elapsed.Milliseconds(), e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write sync log: %w", err)
	}
	return nil
}

// RecentEntries returns the latest audit rows, newest first.
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]*audit.Entry, error) {
	s.calls.Add(1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity, status, summary, changes, failures, error, started_at, finished_at
		FROM sync_logs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync logs: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e := &audit.Entry{}
		if err := rows.Scan(&e.ID, &e.Entity, &e.Status, &e.Summary, &e.Changes,
			&e.Failures, &e.Error, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
