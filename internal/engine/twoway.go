package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmartens/lifesync/internal/codec"
	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/notion"
	"github.com/jmartens/lifesync/internal/record"
	"github.com/jmartens/lifesync/internal/syncerr"
)

const (
	dirWorkspaceToStore = "workspace->store"
	dirStoreToWorkspace = "store->workspace"
)

// Bookkeeping fields the engine stamps on every store write. Out-of-band
// writers stamp last_sync_source themselves; that convention is what
// stops a pass from echoing its own writes back.
const (
	fieldExternalID         = "notion_page_id"
	fieldWorkspaceUpdatedAt = "notion_updated_at"
	fieldSyncSource         = "last_sync_source"
	fieldUnsupported        = "has_unsupported_content"
)

// runTwoWay reconciles the workspace and the store in both directions.
// Pull first, then push, then deletion propagation. Absence-based
// deletion detection only runs on full passes, behind the safety valve.
func (e *Engine) runTwoWay(ctx context.Context, ec entity.Config, since time.Time, full bool, acc *Accountant) error {
	acc.Track(dirWorkspaceToStore)
	acc.Track(dirStoreToWorkspace)

	dbID := e.databases[ec.WorkspaceDBKey]
	mappings := e.mappings.For(ec.Name)

	rows, err := e.store.SelectActive(ctx, ec.Table)
	if err != nil {
		return fmt.Errorf("failed to fetch %s rows: %w", ec.Name, err)
	}

	var querySince *time.Time
	if !full && !since.IsZero() {
		querySince = &since
	}
	pages, err := e.workspace.QueryPages(ctx, dbID, querySince)
	if err != nil {
		return fmt.Errorf("failed to fetch %s pages: %w", ec.Name, err)
	}

	seen := make(map[string]bool, len(pages))
	for _, p := range pages {
		seen[p.ID] = true
		if err := e.pullPage(ctx, ec, mappings, p, acc); err != nil {
			return err
		}
	}

	for _, row := range rows {
		if err := e.pushRow(ctx, ec, dbID, mappings, row, acc); err != nil {
			return err
		}
	}

	if err := e.propagateStoreDeletions(ctx, ec, since, acc); err != nil {
		return err
	}

	if full {
		e.deleteAbsent(ctx, ec, rows, pages, seen, acc)
	}
	return nil
}

// pullPage applies one workspace page to the store.
func (e *Engine) pullPage(ctx context.Context, ec entity.Config, mappings []codec.PropertyMapping, p *notion.Page, acc *Accountant) error {
	row, err := e.store.GetByExternalID(ctx, ec.Table, p.ID)
	if err != nil {
		return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
	}

	if p.Archived {
		if row != nil && !row.Deleted {
			if err := e.store.SoftDelete(ctx, ec.Table, row.LocalID, record.SourceWorkspace); err != nil {
				return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
			}
			acc.Record(dirWorkspaceToStore, ChangeDeleted, p.ID, "page archived")
		}
		return nil
	}

	// Tombstoned pairing: a page editing an already-deleted row either
	// resurrects it (the edit postdates the deletion) or gets archived
	// so the deletion sticks.
	if row != nil && row.Deleted {
		if row.DeletedAt != nil && p.LastEditedTime.After(row.DeletedAt.Add(e.tolerance)) {
			fields, err := e.pageFields(ctx, ec, mappings, p)
			if err != nil {
				return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
			}
			rec := e.workspaceRecord(p, fields)
			if _, err := e.store.UpsertByExternalID(ctx, ec.Table, rec); err != nil {
				return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
			}
			acc.Record(dirWorkspaceToStore, ChangeCreated, p.ID, "resurrected after post-deletion edit")
			return nil
		}
		if err := e.workspace.ArchivePage(ctx, p.ID); err != nil && !errors.Is(err, syncerr.ErrNotFound) {
			return e.recordFailure(acc, dirStoreToWorkspace, p.ID, err)
		}
		if err := e.markDeletionSynced(ctx, ec, row.LocalID); err != nil {
			return e.recordFailure(acc, dirStoreToWorkspace, p.ID, err)
		}
		acc.Record(dirStoreToWorkspace, ChangeDeleted, p.ID, "re-archived deleted record")
		return nil
	}

	if row == nil {
		fields, err := e.pageFields(ctx, ec, mappings, p)
		if err != nil {
			return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
		}
		rec := e.workspaceRecord(p, fields)
		if _, err := e.store.UpsertByExternalID(ctx, ec.Table, rec); err != nil {
			return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
		}
		acc.Record(dirWorkspaceToStore, ChangeCreated, p.ID, "")
		return nil
	}

	switch Arbitrate(p.LastEditedTime, row.UpdatedAt, e.tolerance) {
	case ANewer:
		fields, err := e.pageFields(ctx, ec, mappings, p)
		if err != nil {
			return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
		}
		fields[fieldWorkspaceUpdatedAt] = p.LastEditedTime
		fields[fieldSyncSource] = string(record.SourceWorkspace)
		if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, fields); err != nil {
			return e.recordFailure(acc, dirWorkspaceToStore, p.ID, err)
		}
		acc.Record(dirWorkspaceToStore, ChangeUpdated, p.ID, "")
	case Equivalent:
		acc.Record(dirWorkspaceToStore, ChangeSkipped, p.ID, "")
	case BNewer:
		// The push step handles store-newer rows.
	}
	return nil
}

// pushRow sends one store row to the workspace when the row is the newer
// side or has never been linked.
func (e *Engine) pushRow(ctx context.Context, ec entity.Config, dbID string, mappings []codec.PropertyMapping, row *record.Record, acc *Accountant) error {
	if row.ExternalID == "" {
		props, err := codec.Encode(row.Fields, mappings)
		if err != nil {
			return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err)
		}
		page, err := e.workspace.CreatePage(ctx, dbID, props)
		if err != nil {
			return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err)
		}
		link := map[string]any{
			fieldExternalID:         page.ID,
			fieldWorkspaceUpdatedAt: page.LastEditedTime,
			fieldSyncSource:         string(record.SourceStore),
		}
		if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, link); err != nil {
			return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err)
		}
		acc.Record(dirStoreToWorkspace, ChangeCreated, row.LocalID, "")
		return nil
	}

	if !needsPush(row, e.tolerance) {
		return nil
	}

	props, err := codec.Encode(row.Fields, mappings)
	if err != nil {
		return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err)
	}
	page, err := e.workspace.UpdatePage(ctx, row.ExternalID, props)
	if err != nil {
		if errors.Is(err, syncerr.ErrNotFound) {
			// The paired page is gone for good. Unlink so the next
			// pass recreates the page instead of failing forever.
			clear := map[string]any{fieldExternalID: nil}
			if uerr := e.store.UpdateFields(ctx, ec.Table, row.LocalID, clear); uerr != nil {
				return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, uerr)
			}
			acc.Record(dirStoreToWorkspace, ChangeUpdated, row.LocalID, "unlinked missing page")
			return nil
		}
		return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err)
	}
	stamp := map[string]any{
		fieldWorkspaceUpdatedAt: page.LastEditedTime,
		fieldSyncSource:         string(record.SourceStore),
	}
	if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, stamp); err != nil {
		return e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err)
	}
	acc.Record(dirStoreToWorkspace, ChangeUpdated, row.LocalID, "")
	return nil
}

// needsPush reports whether a linked row carries edits the workspace has
// not seen. The sync-source stamp stops write echo: rows last written by
// a workspace pull keep their workspace stamp and never bounce back.
// Store and provider origins both push.
func needsPush(row *record.Record, tolerance time.Duration) bool {
	if row.SyncSource == record.SourceWorkspace {
		return false
	}
	return Arbitrate(row.UpdatedAt, row.WorkspaceUpdatedAt, tolerance) == ANewer
}

// propagateStoreDeletions archives pages paired with rows deleted on the
// store side since the window opened.
func (e *Engine) propagateStoreDeletions(ctx context.Context, ec entity.Config, since time.Time, acc *Accountant) error {
	deleted, err := e.store.SelectDeletedSince(ctx, ec.Table, since)
	if err != nil {
		return fmt.Errorf("failed to fetch deleted %s rows: %w", ec.Name, err)
	}
	for _, row := range deleted {
		// Tombstones stamped with the workspace source are already
		// archived there; re-archiving would just echo.
		if row.ExternalID == "" || row.SyncSource == record.SourceWorkspace {
			continue
		}
		if err := e.workspace.ArchivePage(ctx, row.ExternalID); err != nil {
			if errors.Is(err, syncerr.ErrNotFound) {
				if serr := e.markDeletionSynced(ctx, ec, row.LocalID); serr != nil {
					if ferr := e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, serr); ferr != nil {
						return ferr
					}
				}
				continue
			}
			if ferr := e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err); ferr != nil {
				return ferr
			}
			continue
		}
		if err := e.markDeletionSynced(ctx, ec, row.LocalID); err != nil {
			if ferr := e.recordFailure(acc, dirStoreToWorkspace, row.LocalID, err); ferr != nil {
				return ferr
			}
			continue
		}
		acc.Record(dirStoreToWorkspace, ChangeDeleted, row.LocalID, "")
	}
	return nil
}

// markDeletionSynced re-stamps a tombstone with the workspace source once
// its page is archived. A full pass selects every tombstone, so without
// the stamp the same deletion would be archived and counted on every
// pass.
func (e *Engine) markDeletionSynced(ctx context.Context, ec entity.Config, localID string) error {
	return e.store.UpdateFields(ctx, ec.Table, localID, map[string]any{
		fieldSyncSource: string(record.SourceWorkspace),
	})
}

// deleteAbsent soft-deletes store rows whose paired pages vanished from
// a full fetch. The safety valve gates the whole step: a collapsed
// source count blocks deletions but never creates or updates.
func (e *Engine) deleteAbsent(ctx context.Context, ec entity.Config, rows []*record.Record, pages []*notion.Page, seen map[string]bool, acc *Accountant) {
	linked := 0
	for _, row := range rows {
		if row.ExternalID != "" {
			linked++
		}
	}
	if err := CheckValve(len(pages), linked); err != nil {
		e.logger.Printf("WARNING: [%s] %v", ec.Name, err)
		acc.Warning(err.Error())
		return
	}
	for _, row := range rows {
		if row.ExternalID == "" || seen[row.ExternalID] {
			continue
		}
		// A row carrying unpushed edits is never an absence candidate:
		// the push step has already unlinked or rewritten it.
		if needsPush(row, e.tolerance) {
			continue
		}
		if err := e.store.SoftDelete(ctx, ec.Table, row.LocalID, record.SourceWorkspace); err != nil {
			e.logger.Printf("WARNING: [%s] failed to delete absent row %s: %v", ec.Name, row.LocalID, err)
			acc.Record(dirWorkspaceToStore, ChangeFailed, row.LocalID, err.Error())
			continue
		}
		acc.Record(dirWorkspaceToStore, ChangeDeleted, row.LocalID, "absent from full fetch")
	}
}

// pageFields decodes a page's properties and, when configured, its body
// content into record fields. Destination-owned fields are scrubbed so a
// pull can never clobber them.
func (e *Engine) pageFields(ctx context.Context, ec entity.Config, mappings []codec.PropertyMapping, p *notion.Page) (map[string]any, error) {
	dec, err := codec.Decode(p, mappings)
	if err != nil {
		return nil, err
	}
	fields := dec.Fields
	for _, f := range ec.DestinationOwned {
		delete(fields, f)
	}

	if ec.ContentField != "" {
		if ec.Sections {
			sections, unsupported, err := codec.ExtractPageSections(ctx, e.workspace, p.ID)
			if err != nil {
				return nil, err
			}
			fields[ec.ContentField] = sections
			fields[fieldUnsupported] = unsupported
		} else {
			content, err := codec.ExtractPageContent(ctx, e.workspace, p.ID)
			if err != nil {
				return nil, err
			}
			fields[ec.ContentField] = content.Text
			fields[fieldUnsupported] = content.Unsupported
		}
	}
	return fields, nil
}

// workspaceRecord builds the store record for a page-originated write.
func (e *Engine) workspaceRecord(p *notion.Page, fields map[string]any) *record.Record {
	return &record.Record{
		ExternalID:         p.ID,
		Fields:             fields,
		UpdatedAt:          p.LastEditedTime,
		WorkspaceUpdatedAt: p.LastEditedTime,
		SyncSource:         record.SourceWorkspace,
	}
}
