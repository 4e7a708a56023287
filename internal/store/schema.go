package store

import (
	"context"
	"fmt"
)

// schema covers only the tables this module owns. Entity tables belong
// to the wider backend and are expected to exist already.
const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	entity     text PRIMARY KEY,
	cursor     timestamptz NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sync_logs (
	id          uuid PRIMARY KEY,
	entity      text NOT NULL,
	status      text NOT NULL,
	summary     text NOT NULL,
	changes     integer NOT NULL DEFAULT 0,
	failures    integer NOT NULL DEFAULT 0,
	error       text NOT NULL DEFAULT '',
	elapsed_ms  bigint NOT NULL DEFAULT 0,
	started_at  timestamptz NOT NULL,
	finished_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_entity_finished
	ON sync_logs(entity, finished_at DESC);
`

// InitSchema creates the bookkeeping tables.
func (s *Store) InitSchema(ctx context.Context) error {
	s.calls.Add(1)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// CheckPairingIndexes verifies every entity table carries a unique index
// on its pairing column. Upserts silently degrade to duplicate inserts
// without one, so a missing index is a startup failure, not a warning.
func (s *Store) CheckPairingIndexes(ctx context.Context, tables []string) error {
	for _, table := range tables {
		keys := s.tableKeys(table)
		for _, col := range []string{keys.External, keys.Provider} {
			if col == "" {
				continue
			}
			ok, err := s.hasUniqueIndex(ctx, table, col)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("table %s is missing a unique index on %s", table, col)
			}
		}
	}
	return nil
}

func (s *Store) hasUniqueIndex(ctx context.Context, table, col string) (bool, error) {
	s.calls.Add(1)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM pg_index i
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
		WHERE t.relname = $1 AND a.attname = $2 AND i.indisunique`,
		table, col,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect indexes on %s: %w", table, err)
	}
	return n > 0, nil
}
