package engine

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/record"
)

const dirProviderToStore = "provider->store"

// runOneWay mirrors a single source into the store. Updates are
// field-level: a record whose fields already match writes nothing, so
// repeated passes are free.
func (e *Engine) runOneWay(ctx context.Context, ec entity.Config, since time.Time, full bool, acc *Accountant) error {
	var (
		direction string
		source    []*record.Record
		err       error
	)
	switch ec.Source {
	case entity.SourceWorkspacePages:
		direction = dirWorkspaceToStore
		acc.Track(direction)
		source, err = e.fetchWorkspaceRecords(ctx, ec, since, full, acc)
	case entity.SourceProviderFeed:
		direction = dirProviderToStore
		if e.provider == nil {
			return fmt.Errorf("entity %s needs a provider but none is configured", ec.Name)
		}
		fetchSince := since
		if full {
			fetchSince = time.Time{}
		}
		source, err = e.provider.Fetch(ctx, ec.ProviderFeed, fetchSince)
	default:
		return fmt.Errorf("entity %s has unknown source %q", ec.Name, ec.Source)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s source: %w", ec.Name, err)
	}
	acc.Track(direction)

	rows, err := e.store.SelectActive(ctx, ec.Table)
	if err != nil {
		return fmt.Errorf("failed to fetch %s rows: %w", ec.Name, err)
	}
	byExternal := make(map[string]*record.Record, len(rows))
	for _, row := range rows {
		if row.ExternalID != "" {
			byExternal[row.ExternalID] = row
		}
	}

	seen := make(map[string]bool, len(source))
	for _, src := range source {
		seen[src.ExternalID] = true
		row := byExternal[src.ExternalID]

		// Sources flag their own deletions: archived pages, cancelled
		// events. These propagate in any pass mode.
		if src.Deleted {
			if row != nil {
				if err := e.store.SoftDelete(ctx, ec.Table, row.LocalID, src.SyncSource); err != nil {
					if ferr := e.recordFailure(acc, direction, src.ExternalID, err); ferr != nil {
						return ferr
					}
					continue
				}
				acc.Record(direction, ChangeDeleted, src.ExternalID, "")
			}
			continue
		}

		if row == nil {
			if _, err := e.store.UpsertByExternalID(ctx, ec.Table, src); err != nil {
				if ferr := e.recordFailure(acc, direction, src.ExternalID, err); ferr != nil {
					return ferr
				}
				continue
			}
			acc.Record(direction, ChangeCreated, src.ExternalID, "")
			continue
		}

		changed := changedFields(row.Fields, src.Fields)
		if len(changed) == 0 {
			acc.Record(direction, ChangeSkipped, src.ExternalID, "")
			continue
		}
		changed[fieldSyncSource] = string(src.SyncSource)
		if err := e.store.UpdateFields(ctx, ec.Table, row.LocalID, changed); err != nil {
			if ferr := e.recordFailure(acc, direction, src.ExternalID, err); ferr != nil {
				return ferr
			}
			continue
		}
		acc.Record(direction, ChangeUpdated, src.ExternalID, "")
	}

	if full {
		e.deleteAbsentOneWay(ctx, ec, direction, rows, len(source), seen, acc)
	}
	return nil
}

// fetchWorkspaceRecords turns workspace pages into source records for a
// one-way pull. Archived pages come back as deletion markers; pages that
// fail to decode are tallied as failures and dropped so one bad page
// never sinks the fetch.
func (e *Engine) fetchWorkspaceRecords(ctx context.Context, ec entity.Config, since time.Time, full bool, acc *Accountant) ([]*record.Record, error) {
	var querySince *time.Time
	if !full && !since.IsZero() {
		querySince = &since
	}
	pages, err := e.workspace.QueryPages(ctx, e.databases[ec.WorkspaceDBKey], querySince)
	if err != nil {
		return nil, err
	}
	mappings := e.mappings.For(ec.Name)

	recs := make([]*record.Record, 0, len(pages))
	for _, p := range pages {
		if p.Archived {
			recs = append(recs, &record.Record{
				ExternalID: p.ID,
				Deleted:    true,
				SyncSource: record.SourceWorkspace,
			})
			continue
		}
		fields, err := e.pageFields(ctx, ec, mappings, p)
		if err != nil {
			if ferr := e.recordFailure(acc, dirWorkspaceToStore, p.ID, err); ferr != nil {
				return nil, ferr
			}
			continue
		}
		recs = append(recs, &record.Record{
			ExternalID:         p.ID,
			Fields:             fields,
			UpdatedAt:          p.LastEditedTime,
			WorkspaceUpdatedAt: p.LastEditedTime,
			SyncSource:         record.SourceWorkspace,
		})
	}
	return recs, nil
}

// deleteAbsentOneWay mirrors source absence on a full pass, behind the
// safety valve.
func (e *Engine) deleteAbsentOneWay(ctx context.Context, ec entity.Config, direction string, rows []*record.Record, sourceCount int, seen map[string]bool, acc *Accountant) {
	if err := CheckValve(sourceCount, len(rows)); err != nil {
		e.logger.Printf("WARNING: [%s] %v", ec.Name, err)
		acc.Warning(err.Error())
		return
	}
	src := record.SourceWorkspace
	if direction == dirProviderToStore {
		src = record.SourceProvider
	}
	for _, row := range rows {
		if row.ExternalID == "" || seen[row.ExternalID] {
			continue
		}
		if err := e.store.SoftDelete(ctx, ec.Table, row.LocalID, src); err != nil {
			e.logger.Printf("WARNING: [%s] failed to delete absent row %s: %v", ec.Name, row.LocalID, err)
			acc.Record(direction, ChangeFailed, row.LocalID, err.Error())
			continue
		}
		acc.Record(direction, ChangeDeleted, row.LocalID, "absent from full fetch")
	}
}

// changedFields returns the subset of incoming fields that differ from
// what the row already holds. Times compare by instant, not location.
func changedFields(current, incoming map[string]any) map[string]any {
	changed := make(map[string]any)
	for k, v := range incoming {
		cur, ok := current[k]
		if !ok {
			if v != nil {
				changed[k] = v
			}
			continue
		}
		if !valuesEqual(cur, v) {
			changed[k] = v
		}
	}
	return changed
}

func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
