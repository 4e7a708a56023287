// Package store implements the relational side of sync passes on
// Postgres. Entity tables are owned by the wider backend; this layer
// only reads and writes them generically, driven by the entity configs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jmartens/lifesync/internal/record"
)

// Keys names the pairing columns of one entity table.
type Keys struct {
	// External is the workspace pairing column. Defaults to
	// "notion_page_id".
	External string
	// Provider is the provider pairing column, e.g. "google_contact_id".
	// Empty for tables with no provider.
	Provider string
}

// Config wires a Store.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string
	// Keys overrides pairing columns per table.
	Keys   map[string]Keys
	Logger *log.Logger
}

// Store runs queries against Postgres through database/sql on the pgx
// driver.
type Store struct {
	db     *sql.DB
	keys   map[string]Keys
	logger *log.Logger
	calls  atomic.Int64
}

const (
	colID                 = "id"
	colDeleted            = "deleted"
	colDeletedAt          = "deleted_at"
	colUpdatedAt          = "updated_at"
	colExternalDefault    = "notion_page_id"
	colWorkspaceUpdatedAt = "notion_updated_at"
	colSyncSource         = "last_sync_source"
)

// Open connects and pings. The caller owns Close.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.Keys == nil {
		cfg.Keys = make(map[string]Keys)
	}
	return &Store{db: db, keys: cfg.Keys, logger: cfg.Logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Calls returns the number of queries issued so far.
func (s *Store) Calls() int {
	return int(s.calls.Load())
}

func (s *Store) tableKeys(table string) Keys {
	k := s.keys[table]
	if k.External == "" {
		k.External = colExternalDefault
	}
	return k
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// checkIdent guards dynamic SQL. Table and column names come from static
// entity configs and the mapping table, never from synced data, but a
// typo'd mapping must fail loudly instead of producing broken SQL.
func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// SelectActive returns all non-deleted rows of a table.
func (s *Store) SelectActive(ctx context.Context, table string) ([]*record.Record, error) {
	return s.selectWhere(ctx, table, "NOT "+colDeleted, nil)
}

// SelectUpdatedSince returns non-deleted rows updated after since.
func (s *Store) SelectUpdatedSince(ctx context.Context, table string, since time.Time) ([]*record.Record, error) {
	return s.selectWhere(ctx, table, "NOT "+colDeleted+" AND "+colUpdatedAt+" > $1", []any{since})
}

// SelectDeletedSince returns soft-deleted rows, restricted to deletions
// after since when since is non-zero.
func (s *Store) SelectDeletedSince(ctx context.Context, table string, since time.Time) ([]*record.Record, error) {
	if since.IsZero() {
		return s.selectWhere(ctx, table, colDeleted, nil)
	}
	return s.selectWhere(ctx, table, colDeleted+" AND "+colDeletedAt+" > $1", []any{since})
}

func (s *Store) selectWhere(ctx context.Context, table, where string, args []any) ([]*record.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	s.calls.Add(1)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	keys := s.tableKeys(table)
	var out []*record.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		out = append(out, s.rowToRecord(cols, vals, keys))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", table, err)
	}
	return out, nil
}

// rowToRecord splits a scanned row into bookkeeping columns and fields.
func (s *Store) rowToRecord(cols []string, vals []any, keys Keys) *record.Record {
	rec := &record.Record{Fields: make(map[string]any)}
	for i, col := range cols {
		v := normalize(vals[i])
		switch col {
		case colID:
			rec.LocalID = asString(v)
		case keys.External:
			rec.ExternalID = asString(v)
		case keys.Provider:
			rec.ProviderID = asString(v)
			if keys.Provider != "" {
				rec.Fields[col] = v
			}
		case colDeleted:
			b, _ := v.(bool)
			rec.Deleted = b
		case colDeletedAt:
			if t, ok := v.(time.Time); ok {
				utc := t.UTC()
				rec.DeletedAt = &utc
			}
		case colUpdatedAt:
			if t, ok := v.(time.Time); ok {
				rec.UpdatedAt = t.UTC()
			}
		case colWorkspaceUpdatedAt:
			if t, ok := v.(time.Time); ok {
				rec.WorkspaceUpdatedAt = t.UTC()
			}
		case colSyncSource:
			rec.SyncSource = record.Source(asString(v))
		default:
			rec.Fields[col] = v
		}
	}
	return rec
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// GetByExternalID returns the row paired with an external id, deleted
// rows included, or nil when no pairing exists.
func (s *Store) GetByExternalID(ctx context.Context, table, externalID string) (*record.Record, error) {
	keys := s.tableKeys(table)
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if err := checkIdent(keys.External); err != nil {
		return nil, err
	}
	recs, err := s.selectWhere(ctx, table, keys.External+" = $1", []any{externalID})
	if err != nil {
		return nil, err
	}
	// selectWhere's deleted filter is in the caller-supplied clause, so
	// this lookup sees tombstones too.
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// UpsertByExternalID inserts or updates the row paired with
// rec.ExternalID. An update clears any tombstone: an upsert is always an
// assertion that the record exists.
func (s *Store) UpsertByExternalID(ctx context.Context, table string, rec *record.Record) (string, error) {
	keys := s.tableKeys(table)
	return s.upsert(ctx, table, keys.External, rec.ExternalID, rec)
}

// UpsertByProviderID inserts or updates the row keyed on rec.ProviderID.
func (s *Store) UpsertByProviderID(ctx context.Context, table string, rec *record.Record) (string, error) {
	keys := s.tableKeys(table)
	if keys.Provider == "" {
		return "", fmt.Errorf("table %s has no provider key column", table)
	}
	return s.upsert(ctx, table, keys.Provider, rec.ProviderID, rec)
}

func (s *Store) upsert(ctx context.Context, table, keyCol, keyVal string, rec *record.Record) (string, error) {
	if err := checkIdent(table); err != nil {
		return "", err
	}
	if keyVal == "" {
		return "", fmt.Errorf("upsert into %s: empty %s", table, keyCol)
	}

	cols := []string{colID, keyCol, colDeleted, colDeletedAt, colSyncSource, colUpdatedAt}
	args := []any{uuid.NewString(), keyVal, false, nil, string(rec.SyncSource), updatedAtValue(rec)}
	if !rec.WorkspaceUpdatedAt.IsZero() {
		cols = append(cols, colWorkspaceUpdatedAt)
		args = append(args, rec.WorkspaceUpdatedAt)
	}
	for field, val := range rec.Fields {
		if field == keyCol {
			continue
		}
		if err := checkIdent(field); err != nil {
			return "", err
		}
		v, err := driverValue(val)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field, err)
		}
		cols = append(cols, field)
		args = append(args, v)
	}

	placeholders := make([]string, len(cols))
	sets := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != colID && col != keyCol {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		keyCol, strings.Join(sets, ", "), colID,
	)

	s.calls.Add(1)
	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", wrapPgErr(fmt.Errorf("failed to upsert into %s: %w", table, err))
	}
	return id, nil
}

// UpdateFields patches named fields on an existing row and bumps
// updated_at.
func (s *Store) UpdateFields(ctx context.Context, table, localID string, fields map[string]any) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	i := 1
	for field, val := range fields {
		if err := checkIdent(field); err != nil {
			return err
		}
		v, err := driverValue(val)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", field, i))
		args = append(args, v)
		i++
	}
	sets = append(sets, colUpdatedAt+" = now()")
	args = append(args, localID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", table, strings.Join(sets, ", "), colID, i)
	s.calls.Add(1)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapPgErr(fmt.Errorf("failed to update %s row %s: %w", table, localID, err))
	}
	return nil
}

// SoftDelete tombstones a row, recording when and which side asked.
func (s *Store) SoftDelete(ctx context.Context, table, localID string, source record.Source) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = true, %s = now(), %s = $1, %s = now() WHERE %s = $2",
		table, colDeleted, colDeletedAt, colSyncSource, colUpdatedAt, colID,
	)
	s.calls.Add(1)
	if _, err := s.db.ExecContext(ctx, query, string(source), localID); err != nil {
		return fmt.Errorf("failed to soft-delete %s row %s: %w", table, localID, err)
	}
	return nil
}

// CountActive returns the number of non-deleted rows.
func (s *Store) CountActive(ctx context.Context, table string) (int, error) {
	return s.count(ctx, table, "NOT "+colDeleted, nil)
}

// CountAll returns the number of rows, tombstones included.
func (s *Store) CountAll(ctx context.Context, table string) (int, error) {
	return s.count(ctx, table, "true", nil)
}

// CountUpdatedSince reports how many rows changed after since.
func (s *Store) CountUpdatedSince(ctx context.Context, table string, since time.Time) (int, error) {
	return s.count(ctx, table, colUpdatedAt+" > $1", []any{since})
}

func (s *Store) count(ctx context.Context, table, where string, args []any) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	s.calls.Add(1)
	var n int
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", table, where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// updatedAtValue maps a zero UpdatedAt to now() semantics.
func updatedAtValue(rec *record.Record) time.Time {
	if rec.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return rec.UpdatedAt
}

// driverValue converts field values for the driver. Slices and maps go
// over the wire as JSON for jsonb columns.
func driverValue(val any) (any, error) {
	switch v := val.(type) {
	case nil, string, bool, int, int64, float64, time.Time, *time.Time:
		return v, nil
	case []string, []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal for jsonb: %w", err)
		}
		return string(b), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported field type %T", val)
		}
		return string(b), nil
	}
}
