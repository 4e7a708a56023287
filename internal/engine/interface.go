// Package engine implements the reconciliation passes that keep the
// workspace, the relational store, and external providers convergent.
package engine

import (
	"context"
	"time"

	"github.com/jmartens/lifesync/internal/notion"
	"github.com/jmartens/lifesync/internal/record"
)

// Workspace is the page-database side of a pass. The production
// implementation is the notion client; tests substitute fakes.
//
// All fetch methods return fully-paginated results. Implementations map
// failures onto the syncerr taxonomy so the engine can distinguish a
// missing page (unlink the pairing) from an auth failure (abort the pass).
type Workspace interface {
	// QueryPages returns pages of a database, restricted to pages last
	// edited after since when since is non-nil.
	QueryPages(ctx context.Context, databaseID string, since *time.Time) ([]*notion.Page, error)

	// GetPage fetches one page by id. Returns syncerr.ErrNotFound for
	// deleted or inaccessible pages.
	GetPage(ctx context.Context, pageID string) (*notion.Page, error)

	// CreatePage creates a page and returns it with its assigned id.
	CreatePage(ctx context.Context, databaseID string, props notion.Properties) (*notion.Page, error)

	// UpdatePage patches page properties and returns the updated page.
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) (*notion.Page, error)

	// ArchivePage soft-deletes a page. Archiving an already-missing page
	// returns syncerr.ErrNotFound.
	ArchivePage(ctx context.Context, pageID string) error

	// GetPageBlocks returns the ordered body blocks of a page.
	GetPageBlocks(ctx context.Context, pageID string) ([]notion.Block, error)

	// GetBlockChildren returns the children of a nested block.
	GetBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)

	// CountUpdatedSince reports how many pages changed after since,
	// for the pre-pass change check.
	CountUpdatedSince(ctx context.Context, databaseID string, since time.Time) (int, error)

	// Calls returns the number of API calls issued so far.
	Calls() int
}

// Store is the relational side of a pass. The production implementation
// runs against Postgres; tests substitute an in-memory fake.
type Store interface {
	// SelectActive returns all non-deleted rows of a table as records.
	SelectActive(ctx context.Context, table string) ([]*record.Record, error)

	// SelectUpdatedSince returns non-deleted rows updated after since.
	SelectUpdatedSince(ctx context.Context, table string, since time.Time) ([]*record.Record, error)

	// SelectDeletedSince returns soft-deleted rows whose deletion
	// happened after since, for deletion propagation.
	SelectDeletedSince(ctx context.Context, table string, since time.Time) ([]*record.Record, error)

	// GetByExternalID returns the row paired with a workspace page,
	// including soft-deleted rows, or nil if no pairing exists.
	GetByExternalID(ctx context.Context, table, externalID string) (*record.Record, error)

	// UpsertByExternalID inserts or updates the row paired with
	// rec.ExternalID and returns the local row id.
	UpsertByExternalID(ctx context.Context, table string, rec *record.Record) (string, error)

	// UpsertByProviderID inserts or updates the row keyed on
	// rec.ProviderID. Used by provider-authoritative hops where a row
	// may exist with no workspace pairing yet.
	UpsertByProviderID(ctx context.Context, table string, rec *record.Record) (string, error)

	// UpdateFields patches named fields on an existing row.
	UpdateFields(ctx context.Context, table, localID string, fields map[string]any) error

	// SoftDelete marks a row deleted, recording when and by whom.
	SoftDelete(ctx context.Context, table, localID string, source record.Source) error

	// CountActive returns the number of non-deleted rows.
	CountActive(ctx context.Context, table string) (int, error)

	// CountUpdatedSince reports how many rows changed after since.
	CountUpdatedSince(ctx context.Context, table string, since time.Time) (int, error)

	// Cursor returns the stored high-water mark for an entity, or the
	// zero time when no pass has completed yet.
	Cursor(ctx context.Context, entity string) (time.Time, error)

	// SetCursor records the high-water mark after a completed pass.
	SetCursor(ctx context.Context, entity string, t time.Time) error

	// Calls returns the number of queries issued so far.
	Calls() int
}

// Provider is an external read-or-write source such as a calendar or
// contacts service. One-way entities only use Fetch; the unified
// topology also pushes identity creates and updates back.
type Provider interface {
	// Fetch returns records changed in the feed after since. A zero
	// since means a full fetch.
	Fetch(ctx context.Context, feed string, since time.Time) ([]*record.Record, error)

	// Create adds a record to the provider and returns its provider id.
	Create(ctx context.Context, feed string, rec *record.Record) (string, error)

	// Update patches an existing provider record.
	Update(ctx context.Context, feed string, rec *record.Record) error

	// Calls returns the number of API calls issued so far.
	Calls() int
}
