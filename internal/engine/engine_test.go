package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmartens/lifesync/internal/codec"
	"github.com/jmartens/lifesync/internal/entity"
	"github.com/jmartens/lifesync/internal/notion"
	"github.com/jmartens/lifesync/internal/record"
	"github.com/jmartens/lifesync/internal/syncerr"
)

var testMappings = codec.Table{
	"tasks": {
		{Property: "Name", Field: "title", Kind: codec.KindTitle},
		{Property: "Done", Field: "done", Kind: codec.KindCheckbox},
	},
	"contacts": {
		{Property: "Name", Field: "full_name", Kind: codec.KindTitle},
		{Property: "Email", Field: "email", Kind: codec.KindEmail},
		{Property: "Company", Field: "company", Kind: codec.KindRichText},
	},
}

var taskEntity = entity.Config{
	Name:             "tasks",
	Table:            "tasks",
	WorkspaceDBKey:   "tasks",
	Topology:         entity.TopologyTwoWay,
	DestinationOwned: []string{"reminder_sent_at"},
}

func newTestEngine(t *testing.T, ws *fakeWorkspace, st *fakeStore, prov Provider) *Engine {
	t.Helper()
	return New(Config{
		Workspace: ws,
		Store:     st,
		Provider:  prov,
		Mappings:  testMappings,
		Databases: map[string]string{"tasks": "db-tasks", "contacts": "db-contacts"},
		Logger:    log.New(io.Discard, "", 0),
	})
}

func titleProp(s string) *notion.Property {
	return &notion.Property{Type: "title", Title: notion.NewRichText(s)}
}

func checkboxProp(b bool) *notion.Property {
	return &notion.Property{Type: "checkbox", Checkbox: &b}
}

func emailProp(s string) *notion.Property {
	return &notion.Property{Type: "email", Email: &s}
}

func TestTwoWayCreatesFromWorkspace(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	ws.addPage("page-a", time.Now().UTC(), notion.Properties{
		"Name": titleProp("Buy milk"),
		"Done": checkboxProp(false),
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "page-a", rows[0].ExternalID)
	assert.Equal(t, "Buy milk", rows[0].Fields["title"])
	assert.Equal(t, false, rows[0].Fields["done"])
	assert.Equal(t, record.SourceWorkspace, rows[0].SyncSource)
	assert.Equal(t, 1, res.Changes)
}

func TestTwoWayPushesUnlinkedRow(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	st.addRow(&record.Record{
		Fields:    map[string]any{"title": "From the store", "done": true},
		UpdatedAt: time.Now().UTC(),
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 1)
	require.NotEmpty(t, rows[0].ExternalID)

	page := ws.pages[rows[0].ExternalID]
	require.NotNil(t, page)
	assert.Equal(t, "From the store", page.Properties["Name"].PlainText())
}

func TestTwoWayIdempotent(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	ws.addPage("page-a", time.Now().UTC(), notion.Properties{"Name": titleProp("Stable")})

	e := newTestEngine(t, ws, st, nil)
	first := e.Run(context.Background(), taskEntity, true)
	require.Equal(t, StatusSuccess, first.Status)
	require.Equal(t, 1, first.Changes)

	second := e.Run(context.Background(), taskEntity, true)
	require.Equal(t, StatusSuccess, second.Status)
	assert.Zero(t, second.Changes, "second pass over unchanged data must write nothing")
}

func TestTwoWayWorkspaceWinsConflict(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	ws.addPage("page-a", now, notion.Properties{"Name": titleProp("Newer title")})
	st.addRow(&record.Record{
		ExternalID:         "page-a",
		Fields:             map[string]any{"title": "Older title", "reminder_sent_at": "2026-01-01"},
		UpdatedAt:          now.Add(-time.Hour),
		WorkspaceUpdatedAt: now.Add(-time.Hour),
		SyncSource:         record.SourceWorkspace,
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	row := st.activeRows()[0]
	assert.Equal(t, "Newer title", row.Fields["title"])
	// Destination-owned fields survive the overwrite untouched.
	assert.Equal(t, "2026-01-01", row.Fields["reminder_sent_at"])
}

func TestTwoWayStoreWinsConflict(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	ws.addPage("page-a", now.Add(-time.Hour), notion.Properties{"Name": titleProp("Stale")})
	st.addRow(&record.Record{
		ExternalID:         "page-a",
		Fields:             map[string]any{"title": "Fresh from the store"},
		UpdatedAt:          now,
		WorkspaceUpdatedAt: now.Add(-time.Hour),
		SyncSource:         record.SourceStore,
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Fresh from the store", ws.pages["page-a"].Properties["Name"].PlainText())
}

func TestToleranceSuppressesEcho(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	// Timestamps 3s apart: a write echo, not a real edit.
	ws.addPage("page-a", now, notion.Properties{"Name": titleProp("Same")})
	st.addRow(&record.Record{
		ExternalID:         "page-a",
		Fields:             map[string]any{"title": "Same"},
		UpdatedAt:          now.Add(-3 * time.Second),
		WorkspaceUpdatedAt: now,
		SyncSource:         record.SourceStore,
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	assert.Zero(t, res.Changes)
}

func TestDeletionPropagatesToWorkspace(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	ws.addPage("page-a", now.Add(-time.Hour), notion.Properties{"Name": titleProp("Doomed")})
	row := st.addRow(&record.Record{
		ExternalID: "page-a",
		Fields:     map[string]any{"title": "Doomed"},
		UpdatedAt:  now,
		SyncSource: record.SourceStore,
	})
	row.Deleted = true
	row.DeletedAt = &now

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.NotEqual(t, StatusError, res.Status)
	assert.True(t, ws.pages["page-a"].Archived)
}

func TestDeletionPropagatesToStore(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	p := ws.addPage("page-a", now, notion.Properties{"Name": titleProp("Archived upstream")})
	p.Archived = true
	st.addRow(&record.Record{
		ExternalID: "page-a",
		Fields:     map[string]any{"title": "Archived upstream"},
		UpdatedAt:  now.Add(-time.Hour),
		SyncSource: record.SourceWorkspace,
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, st.activeRows())
}

func TestNoResurrectionFromStalePage(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	// The page predates the deletion; it must not bring the row back.
	ws.addPage("page-a", now.Add(-time.Hour), notion.Properties{"Name": titleProp("Ghost")})
	row := st.addRow(&record.Record{
		ExternalID: "page-a",
		Fields:     map[string]any{"title": "Ghost"},
		UpdatedAt:  now.Add(-2 * time.Hour),
		SyncSource: record.SourceStore,
	})
	row.Deleted = true
	row.DeletedAt = &now

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.NotEqual(t, StatusError, res.Status)
	assert.Empty(t, st.activeRows(), "deleted row must stay deleted")
	assert.True(t, ws.pages["page-a"].Archived, "stale page gets archived so the deletion sticks")
}

func TestResurrectionAfterGenuineEdit(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	deletedAt := time.Now().UTC().Add(-time.Hour)

	// The page was edited well after the deletion: the human wants it back.
	ws.addPage("page-a", deletedAt.Add(30*time.Minute), notion.Properties{"Name": titleProp("I'm back")})
	row := st.addRow(&record.Record{
		ExternalID: "page-a",
		Fields:     map[string]any{"title": "I'm back"},
		UpdatedAt:  deletedAt.Add(-time.Hour),
		SyncSource: record.SourceStore,
	})
	row.Deleted = true
	row.DeletedAt = &deletedAt

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.NotEqual(t, StatusError, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "I'm back", rows[0].Fields["title"])
	assert.False(t, ws.pages["page-a"].Archived)
}

func TestStoreDeletionPropagatesOnce(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	ws.addPage("page-a", now.Add(-2*time.Hour), notion.Properties{"Name": titleProp("Stale")})
	row := st.addRow(&record.Record{
		ExternalID: "page-a",
		Fields:     map[string]any{"title": "Stale"},
		UpdatedAt:  now.Add(-3 * time.Hour),
		SyncSource: record.SourceStore,
	})
	row.Deleted = true
	row.DeletedAt = &now

	e := newTestEngine(t, ws, st, nil)

	first := e.Run(context.Background(), taskEntity, true)
	require.NotEqual(t, StatusError, first.Status)
	assert.True(t, ws.pages["page-a"].Archived)
	assert.Equal(t, 1, first.Changes, "one deletion, counted once")

	// A full pass selects every tombstone; an already-propagated one
	// must not be archived or counted again.
	second := e.Run(context.Background(), taskEntity, true)
	require.NotEqual(t, StatusError, second.Status)
	assert.Zero(t, second.Changes)
}

func TestValveBlocksMassDeletion(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	// Ten linked rows, zero pages: a collapsed fetch, not a purge.
	for i := 0; i < 10; i++ {
		st.addRow(&record.Record{
			ExternalID: "page-" + string(rune('a'+i)),
			Fields:     map[string]any{"title": "keep"},
			UpdatedAt:  now,
			SyncSource: record.SourceWorkspace,
		})
	}

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.NotEqual(t, StatusError, res.Status)
	assert.Len(t, st.activeRows(), 10, "valve must block absence-based deletions")
	require.Len(t, res.Warnings, 1, "a tripped valve must reach the audit trail")
	assert.Contains(t, res.Warnings[0], "safety valve")
	assert.Contains(t, res.Summary, "warning:")
}

func TestValveExemptsSmallCollections(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		st.addRow(&record.Record{
			ExternalID: "page-" + string(rune('a'+i)),
			Fields:     map[string]any{"title": "gone"},
			UpdatedAt:  now,
			SyncSource: record.SourceWorkspace,
		})
	}

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, st.activeRows(), "small collections may legitimately empty out")
}

func TestPerRecordIsolation(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	for i, name := range []string{"one", "two", "three", "four", "five"} {
		props := notion.Properties{"Name": titleProp(name)}
		if i == 2 {
			// Wrong actual type for a mapped property.
			n := 7.0
			props["Name"] = &notion.Property{Type: "number", Number: &n}
		}
		ws.addPage("page-"+name, now, props)
	}

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, res.Failures)
	assert.Len(t, st.activeRows(), 4, "the bad record must not stop its neighbors")
}

func TestFetchFailureAbortsPass(t *testing.T) {
	ws := newFakeWorkspace()
	ws.failQuery = errors.New("connection refused")
	st := newFakeStore()

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.Equal(t, StatusError, res.Status)
	require.Error(t, res.Err)
	assert.Empty(t, st.activeRows())
}

func TestPushUnlinksOnMissingPage(t *testing.T) {
	ws := newFakeWorkspace()
	ws.failPageID = "page-gone"
	st := newFakeStore()
	now := time.Now().UTC()

	st.addRow(&record.Record{
		ExternalID:         "page-gone",
		Fields:             map[string]any{"title": "orphaned"},
		UpdatedAt:          now,
		WorkspaceUpdatedAt: now.Add(-time.Hour),
		SyncSource:         record.SourceStore,
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, true)

	require.NotEqual(t, StatusError, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].ExternalID, "stale pairing must be severed")
}

func TestIncrementalSkipsWhenNothingChanged(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	cursor := time.Now().UTC()
	st.cursors["tasks"] = cursor

	ws.addPage("page-a", cursor.Add(-time.Hour), notion.Properties{"Name": titleProp("old")})
	st.addRow(&record.Record{
		ExternalID: "page-a",
		Fields:     map[string]any{"title": "old"},
		UpdatedAt:  cursor.Add(-time.Hour),
		SyncSource: record.SourceWorkspace,
	})

	res := newTestEngine(t, ws, st, nil).Run(context.Background(), taskEntity, false)

	assert.Equal(t, StatusSkipped, res.Status)
}

func TestExplicitLookbackOverridesCursor(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()

	// The cursor says nothing changed, but a 24h lookback reaches the
	// page edited an hour ago.
	st.cursors["tasks"] = time.Now().UTC()
	ws.addPage("page-a", time.Now().UTC().Add(-time.Hour), notion.Properties{"Name": titleProp("Missed")})

	res := newTestEngine(t, ws, st, nil).RunWindow(context.Background(), taskEntity, false, 24*time.Hour)

	require.Equal(t, StatusSuccess, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Missed", rows[0].Fields["title"])
}

func TestPassGuardRejectsOverlap(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	e := newTestEngine(t, ws, st, nil)

	require.NoError(t, e.guard.Acquire("tasks"))
	defer e.guard.Release("tasks")

	res := e.Run(context.Background(), taskEntity, true)
	require.Equal(t, StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, syncerr.ErrPassInProgress))
}

func TestOneWayProviderFeed(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()
	prov := &fakeProvider{records: []*record.Record{
		{ExternalID: "evt-1", Fields: map[string]any{"title": "Standup"}, UpdatedAt: now, SyncSource: record.SourceProvider},
		{ExternalID: "evt-2", Fields: map[string]any{"title": "Review"}, UpdatedAt: now, SyncSource: record.SourceProvider},
		{ExternalID: "evt-3", Deleted: true, SyncSource: record.SourceProvider},
	}}
	st.addRow(&record.Record{
		ExternalID: "evt-3",
		Fields:     map[string]any{"title": "Cancelled"},
		UpdatedAt:  now.Add(-time.Hour),
		SyncSource: record.SourceProvider,
	})

	ec := entity.Config{
		Name:         "calendar_events",
		Table:        "calendar_events",
		Topology:     entity.TopologyOneWay,
		Source:       entity.SourceProviderFeed,
		ProviderFeed: "calendar",
	}
	res := newTestEngine(t, ws, st, prov).Run(context.Background(), ec, true)

	require.Equal(t, StatusSuccess, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "Standup", rows[0].Fields["title"])
	assert.Equal(t, 3, res.Changes, "two creates and one deletion")
}

func TestOneWayFieldLevelIdempotence(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()
	prov := &fakeProvider{records: []*record.Record{
		{ExternalID: "evt-1", Fields: map[string]any{"title": "Standup"}, UpdatedAt: now, SyncSource: record.SourceProvider},
	}}

	ec := entity.Config{
		Name:         "calendar_events",
		Table:        "calendar_events",
		Topology:     entity.TopologyOneWay,
		Source:       entity.SourceProviderFeed,
		ProviderFeed: "calendar",
	}
	e := newTestEngine(t, ws, st, prov)

	first := e.Run(context.Background(), ec, true)
	require.Equal(t, 1, first.Changes)

	second := e.Run(context.Background(), ec, true)
	assert.Zero(t, second.Changes)
}

func TestUnifiedProviderOwnsIdentity(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	prov := &fakeProvider{records: []*record.Record{
		{
			ProviderID: "g-1",
			Fields:     map[string]any{"full_name": "Ada Lovelace", "email": "ada@example.com"},
			UpdatedAt:  now,
			SyncSource: record.SourceProvider,
		},
	}}

	ec := entity.Config{
		Name:           "contacts",
		Table:          "contacts",
		WorkspaceDBKey: "contacts",
		Topology:       entity.TopologyUnified,
		ProviderFeed:   "contacts",
		ProviderOwned:  []string{"full_name", "email"},
	}
	res := newTestEngine(t, ws, st, prov).Run(context.Background(), ec, true)

	require.Equal(t, StatusSuccess, res.Status)
	rows := st.activeRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada Lovelace", rows[0].Fields["full_name"])
	require.NotEmpty(t, rows[0].ExternalID, "merged row gets pushed to the workspace")

	page := ws.pages[rows[0].ExternalID]
	require.NotNil(t, page)
	assert.Equal(t, "Ada Lovelace", page.Properties["Name"].PlainText())
}

func TestUnifiedWorkspaceNeverWinsIdentity(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	ws.addPage("page-a", now, notion.Properties{
		"Name":    titleProp("Wrong Name"),
		"Email":   emailProp("wrong@example.com"),
		"Company": &notion.Property{Type: "rich_text", RichText: notion.NewRichText("Acme")},
	})
	st.addRow(&record.Record{
		ExternalID: "page-a",
		ProviderID: "g-1",
		Fields:     map[string]any{"full_name": "Right Name", "email": "right@example.com"},
		UpdatedAt:  now.Add(-time.Hour),
		SyncSource: record.SourceProvider,
	})

	ec := entity.Config{
		Name:           "contacts",
		Table:          "contacts",
		WorkspaceDBKey: "contacts",
		Topology:       entity.TopologyUnified,
		ProviderFeed:   "contacts",
		ProviderOwned:  []string{"full_name", "email"},
	}
	res := newTestEngine(t, ws, st, &fakeProvider{}).Run(context.Background(), ec, true)

	require.NotEqual(t, StatusError, res.Status)
	row := st.activeRows()[0]
	assert.Equal(t, "Right Name", row.Fields["full_name"], "identity fields stay provider-owned")
	assert.Equal(t, "Acme", row.Fields["company"], "non-identity fields flow from the workspace")
}

func TestUnifiedPushesStoreIdentityEdit(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	prov := &fakeProvider{records: []*record.Record{
		{
			ProviderID: "g-1",
			Fields:     map[string]any{"full_name": "Ada Lovelace", "email": "ada@old.example.com"},
			UpdatedAt:  now.Add(-2 * time.Hour),
			SyncSource: record.SourceProvider,
		},
	}}
	st.addRow(&record.Record{
		ProviderID: "g-1",
		Fields:     map[string]any{"full_name": "Ada Lovelace", "email": "ada@new.example.com"},
		UpdatedAt:  now,
		SyncSource: record.SourceStore,
	})

	ec := entity.Config{
		Name:           "contacts",
		Table:          "contacts",
		WorkspaceDBKey: "contacts",
		Topology:       entity.TopologyUnified,
		ProviderFeed:   "contacts",
		ProviderOwned:  []string{"full_name", "email"},
	}
	e := newTestEngine(t, ws, st, prov)

	first := e.Run(context.Background(), ec, true)
	require.Equal(t, StatusSuccess, first.Status)
	require.Len(t, prov.records, 1)
	assert.Equal(t, "ada@new.example.com", prov.records[0].Fields["email"],
		"newer store edit lands at the provider")
	row := st.activeRows()[0]
	assert.Equal(t, "ada@new.example.com", row.Fields["email"], "store keeps its edit")

	second := e.Run(context.Background(), ec, true)
	require.NotEqual(t, StatusError, second.Status)
	for _, c := range second.Details {
		assert.NotEqual(t, dirStoreToProvider, c.Direction, "identity push must not echo")
	}
}

func TestUnifiedCreatesProviderContact(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	now := time.Now().UTC()

	st.addRow(&record.Record{
		Fields:     map[string]any{"full_name": "Grace Hopper", "company": "Navy"},
		UpdatedAt:  now,
		SyncSource: record.SourceStore,
	})

	ec := entity.Config{
		Name:           "contacts",
		Table:          "contacts",
		WorkspaceDBKey: "contacts",
		Topology:       entity.TopologyUnified,
		ProviderFeed:   "contacts",
		ProviderOwned:  []string{"full_name", "email"},
	}
	prov := &fakeProvider{}
	e := newTestEngine(t, ws, st, prov)

	first := e.Run(context.Background(), ec, true)
	require.Equal(t, StatusSuccess, first.Status)
	require.Len(t, prov.records, 1)
	assert.Equal(t, "Grace Hopper", prov.records[0].Fields["full_name"])
	assert.NotEmpty(t, st.activeRows()[0].ProviderID, "pairing recorded on the row")

	second := e.Run(context.Background(), ec, true)
	require.NotEqual(t, StatusError, second.Status)
	assert.Len(t, prov.records, 1, "paired row is not created again")
}

func TestAuditSinkReceivesEntry(t *testing.T) {
	ws := newFakeWorkspace()
	st := newFakeStore()
	ws.addPage("page-a", time.Now().UTC(), notion.Properties{"Name": titleProp("audited")})

	sink := &fakeSink{}
	e := New(Config{
		Workspace: ws,
		Store:     st,
		Mappings:  testMappings,
		Databases: map[string]string{"tasks": "db-tasks"},
		Audit:     sink,
		Logger:    log.New(io.Discard, "", 0),
	})

	res := e.Run(context.Background(), taskEntity, true)
	require.Equal(t, StatusSuccess, res.Status)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "tasks", sink.entries[0].Entity)
	assert.Equal(t, string(StatusSuccess), sink.entries[0].Status)
	assert.NotEmpty(t, sink.entries[0].ID)
	assert.Equal(t, res.Summary, sink.entries[0].Summary)
}
