package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cursor returns the stored high-water mark for an entity. A zero time
// means no pass has ever completed, which forces a full pull.
func (s *Store) Cursor(ctx context.Context, entity string) (time.Time, error) {
	s.calls.Add(1)
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT cursor FROM sync_state WHERE entity = $1", entity,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cursor for %s: %w", entity, err)
	}
	return t.UTC(), nil
}

// SetCursor records the high-water mark after a completed pass.
func (s *Store) SetCursor(ctx context.Context, entity string, t time.Time) error {
	s.calls.Add(1)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (entity, cursor, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (entity) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()`,
		entity, t,
	)
	if err != nil {
		return fmt.Errorf("failed to set cursor for %s: %w", entity, err)
	}
	return nil
}
