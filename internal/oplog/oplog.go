// Package oplog keeps a local, append-only log of every change the
// engine applies. It lives in an embedded SQLite file next to the
// daemon, so pass history survives restarts and is inspectable even
// when Postgres is unreachable.
package oplog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Op is one logged change.
type Op struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Entity    string    `json:"entity"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	RecordID  string    `json:"record_id"`
	Detail    string    `json:"detail,omitempty"`
	LoggedAt  time.Time `json:"logged_at"`
}

// Log is the append-only operation log.
type Log struct {
	conn *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS ops (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	entity    TEXT NOT NULL,
	direction TEXT NOT NULL,
	kind      TEXT NOT NULL,
	record_id TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT '',
	logged_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ops_entity_logged ON ops(entity, logged_at DESC);
CREATE INDEX IF NOT EXISTS idx_ops_run ON ops(run_id);
`

// Open creates or opens the log file and ensures the schema exists.
// The caller owns Close.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create oplog directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open oplog: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping oplog: %w", err)
	}

	// WAL keeps readers unblocked while a pass appends.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create oplog schema: %w", err)
	}
	return &Log{conn: conn, path: path}, nil
}

// Close closes the log.
func (l *Log) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// Append records one change.
func (l *Log) Append(ctx context.Context, op Op) error {
	if op.LoggedAt.IsZero() {
		op.LoggedAt = time.Now().UTC()
	}
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO ops (run_id, entity, direction, kind, record_id, detail, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.RunID, op.Entity, op.Direction, op.Kind, op.RecordID, op.Detail,
		op.LoggedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append op: %w", err)
	}
	return nil
}

// Recent returns the newest ops for an entity, newest first. An empty
// entity returns ops across all entities.
func (l *Log) Recent(ctx context.Context, entity string, limit int) ([]Op, error) {
	query := "SELECT id, run_id, entity, direction, kind, record_id, detail, logged_at FROM ops"
	var args []any
	if entity != "" {
		query += " WHERE entity = ?"
		args = append(args, entity)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read ops: %w", err)
	}
	defer rows.Close()

	var out []Op
	for rows.Next() {
		var op Op
		var logged string
		if err := rows.Scan(&op.ID, &op.RunID, &op.Entity, &op.Direction, &op.Kind, &op.RecordID, &op.Detail, &logged); err != nil {
			return nil, fmt.Errorf("failed to scan op: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, logged); perr == nil {
			op.LoggedAt = t
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Prune deletes ops older than the retention window.
func (l *Log) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := l.conn.ExecContext(ctx, "DELETE FROM ops WHERE logged_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ops: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
