package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/record"
)

const (
	fieldProviderID    = "google_contact_id"
	dirStoreToProvider = "store->provider"
)

// runUnified reconciles three systems around the store. For the identity
// fields the provider owns, the newer of provider and store wins: a
// direct store edit that postdates the provider's copy is pushed back to
// the provider, and rows born without a provider pairing get created
// there. The workspace is authoritative for everything else; the store
// holds the merged view and pushes it back to the workspace.
//
// Unified passes never delete. Identity data is the one place a wrongly
// propagated deletion is unrecoverable, so absence means "leave alone".
func (e *Engine) runUnified(ctx context.Context, ec entity.Config, since time.Time, full bool, acc *Accountant) error {
	acc.Track(dirProviderToStore)
	acc.Track(dirStoreToProvider)
	acc.Track(dirWorkspaceToStore)
	acc.Track(dirStoreToWorkspace)

	if e.provider == nil {
		return fmt.Errorf("entity %s needs a provider but none is configured", ec.Name)
	}
	dbID := e.databases[ec.WorkspaceDBKey]
	mappings := e.mappings.For(ec.Name)

	rows, err := e.store.SelectActive(ctx, ec.Table)
	if err != nil {
		return fmt.Errorf("failed to fetch %s rows: %w", ec.Name, err)
	}
	byProvider := make(map[string]*record.Record, len(rows))
	for _, row := range rows {
		if row.ProviderID != "" {
			byProvider[row.ProviderID] = row
		}
	}

	fetchSince := since
	if full {
		fetchSince = time.Time{}
	}
	provRecs, err := e.provider.Fetch(ctx, ec.ProviderFeed, fetchSince)
	if err != nil {
		return fmt.Errorf("failed to fetch %s provider feed: %w", ec.Name, err)
	}

	owned := make(map[string]bool, len(ec.ProviderOwned))
	for _, f := range ec.ProviderOwned {
		owned[f] = true
	}

	for _, rec := range provRecs {
		if rec.Deleted {
			continue
		}
		identity := make(map[string]any)
		for k, v := range rec.Fields {
			if owned[k] {
				identity[k] = v
			}
		}

		row := byProvider[rec.ProviderID]
		if row == nil {
			identity[fieldProviderID] = rec.ProviderID
			fresh := &record.Record{
				ProviderID: rec.ProviderID,
				Fields:     identity,
				UpdatedAt:  rec.UpdatedAt,
				SyncSource: record.SourceProvider,
			}
			if _, err := e.store.UpsertByProviderID(ctx, ec.Table, fresh); err != nil {
				if ferr := e.recordFailure(acc, dirProviderToStore, rec.ProviderID, err); ferr != nil {
					return ferr
				}
				continue
			}
			acc.Record(dirProviderToStore, ChangeCreated, rec.ProviderID, "")
			continue
		}

		changed := changedFields(row.Fields, identity)
		if len(changed) == 0 {
			acc.Record(dirProviderToStore, ChangeSkipped, rec.ProviderID, "")
			continue
		}

		// A direct store edit newer than the provider's copy wins:
		// push it back instead of overwriting it.
		if row.SyncSource == record.SourceStore && Arbitrate(row.UpdatedAt, rec.UpdatedAt, e.tolerance) == ANewer {
			if err := e.provider.Update(ctx, ec.ProviderFeed, row); err != nil {
				if ferr := e.recordFailure(acc, dirStoreToProvider, row.LocalID, err); ferr != nil {
					return ferr
				}
				continue
			}
			acc.Record(dirStoreToProvider, ChangeUpdated, row.LocalID, "")
			continue
		}

		changed[fieldSyncSource] = string(record.SourceProvider)
		if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, changed); err != nil {
			if ferr := e.recordFailure(acc, dirProviderToStore, rec.ProviderID, err); ferr != nil {
				return ferr
			}
			continue
		}
		acc.Record(dirProviderToStore, ChangeUpdated, rec.ProviderID, "")
	}

	var querySince *time.Time
	if !full && !since.IsZero() {
		querySince = &since
	}
	pages, err := e.workspace.QueryPages(ctx, dbID, querySince)
	if err != nil {
		return fmt.Errorf("failed to fetch %s pages: %w", ec.Name, err)
	}

	for _, p := range pages {
		if p.Archived {
			continue
		}
		row, err := e.store.GetByExternalID(ctx, ec.Table, p.ID)
		if err != nil {
			if ferr := e.recordFailure(acc, dirWorkspaceToStore, p.ID, err); ferr != nil {
				return ferr
			}
			continue
		}
		if row != nil && row.Deleted {
			continue
		}

		fields, err := e.pageFields(ctx, ec, mappings, p)
		if err != nil {
			if ferr := e.recordFailure(acc, dirWorkspaceToStore, p.ID, err); ferr != nil {
				return ferr
			}
			continue
		}
		// The workspace never wins on identity fields.
		for f := range owned {
			delete(fields, f)
		}

		if row == nil {
			rec := &record.Record{
				ExternalID:         p.ID,
				Fields:             fields,
				UpdatedAt:          p.LastEditedTime,
				WorkspaceUpdatedAt: p.LastEditedTime,
				SyncSource:         record.SourceWorkspace,
			}
			if _, err := e.store.UpsertByExternalID(ctx, ec.Table, rec); err != nil {
				if ferr := e.recordFailure(acc, dirWorkspaceToStore, p.ID, err); ferr != nil {
					return ferr
				}
				continue
			}
			acc.Record(dirWorkspaceToStore, ChangeCreated, p.ID, "")
			continue
		}

		switch Arbitrate(p.LastEditedTime, row.UpdatedAt, e.tolerance) {
		case ANewer:
			changed := changedFields(row.Fields, fields)
			if len(changed) == 0 {
				acc.Record(dirWorkspaceToStore, ChangeSkipped, p.ID, "")
				continue
			}
			changed[fieldWorkspaceUpdatedAt] = p.LastEditedTime
			changed[fieldSyncSource] = string(record.SourceWorkspace)
			if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, changed); err != nil {
				if ferr := e.recordFailure(acc, dirWorkspaceToStore, p.ID, err); ferr != nil {
					return ferr
				}
				continue
			}
			acc.Record(dirWorkspaceToStore, ChangeUpdated, p.ID, "")
		default:
			acc.Record(dirWorkspaceToStore, ChangeSkipped, p.ID, "")
		}
	}

	merged, err := e.store.SelectActive(ctx, ec.Table)
	if err != nil {
		return fmt.Errorf("failed to re-fetch %s rows: %w", ec.Name, err)
	}

	// Rows carrying identity data but no provider pairing were born in
	// the store. Create them at the provider so identity stays paired
	// everywhere; recording the new id makes this a one-time event.
	for _, row := range merged {
		if row.ProviderID != "" {
			continue
		}
		hasIdentity := false
		for f := range owned {
			if _, ok := row.Fields[f]; ok {
				hasIdentity = true
				break
			}
		}
		if !hasIdentity {
			continue
		}
		id, err := e.provider.Create(ctx, ec.ProviderFeed, row)
		if err != nil {
			if ferr := e.recordFailure(acc, dirStoreToProvider, row.LocalID, err); ferr != nil {
				return ferr
			}
			continue
		}
		if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, map[string]any{fieldProviderID: id}); err != nil {
			if ferr := e.recordFailure(acc, dirStoreToProvider, row.LocalID, err); ferr != nil {
				return ferr
			}
			continue
		}
		row.ProviderID = id
		acc.Record(dirStoreToProvider, ChangeCreated, row.LocalID, "")
	}

	// Push the merged view back so the workspace shows identity fields
	// alongside its own.
	for _, row := range merged {
		if err := e.pushRow(ctx, ec, dbID, mappings, row, acc); err != nil {
			return err
		}
	}
	return nil
}
