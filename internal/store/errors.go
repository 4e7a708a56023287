package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jmartens/lifesync/internal/syncerr"
)

// Postgres error classes the sync taxonomy cares about.
const (
	pgUniqueViolation = "23505"
	pgClassConnection = "08"
)

// wrapPgErr tags driver errors with the shared taxonomy so the engine
// can tell a duplicate pairing from a dropped connection.
func wrapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return fmt.Errorf("%w: %v", syncerr.ErrUniqueness, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgClassConnection:
			return fmt.Errorf("%w: %v", syncerr.ErrTransient, err)
		}
	}
	return err
}
