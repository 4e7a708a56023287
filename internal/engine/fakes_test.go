package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmartens/lifesync/internal/audit"
	"github.com/jmartens/lifesync/internal/notion"
	"github.com/jmartens/lifesync/internal/record"
	"github.com/jmartens/lifesync/internal/syncerr"
)

// fakeWorkspace is an in-memory Workspace. Pages are returned in
// insertion order so assertions are deterministic.
type fakeWorkspace struct {
	pages  map[string]*notion.Page
	order  []string
	blocks map[string][]notion.Block
	nextID int
	calls  int

	failQuery  error
	failPageID string
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		pages:  make(map[string]*notion.Page),
		blocks: make(map[string][]notion.Block),
	}
}

func (w *fakeWorkspace) addPage(id string, edited time.Time, props notion.Properties) *notion.Page {
	p := &notion.Page{ID: id, LastEditedTime: edited, Properties: props}
	w.pages[id] = p
	w.order = append(w.order, id)
	return p
}

func (w *fakeWorkspace) QueryPages(_ context.Context, _ string, since *time.Time) ([]*notion.Page, error) {
	w.calls++
	if w.failQuery != nil {
		return nil, w.failQuery
	}
	var out []*notion.Page
	for _, id := range w.order {
		p := w.pages[id]
		if since != nil && !p.LastEditedTime.After(*since) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (w *fakeWorkspace) GetPage(_ context.Context, id string) (*notion.Page, error) {
	w.calls++
	p, ok := w.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", id, syncerr.ErrNotFound)
	}
	return p, nil
}

func (w *fakeWorkspace) CreatePage(_ context.Context, _ string, props notion.Properties) (*notion.Page, error) {
	w.calls++
	w.nextID++
	p := &notion.Page{ID: "page-" + strconv.Itoa(w.nextID), LastEditedTime: time.Now().UTC(), Properties: props}
	w.pages[p.ID] = p
	w.order = append(w.order, p.ID)
	return p, nil
}

func (w *fakeWorkspace) UpdatePage(_ context.Context, id string, props notion.Properties) (*notion.Page, error) {
	w.calls++
	if id == w.failPageID {
		return nil, fmt.Errorf("page %s: %w", id, syncerr.ErrNotFound)
	}
	p, ok := w.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", id, syncerr.ErrNotFound)
	}
	for k, v := range props {
		p.Properties[k] = v
	}
	p.LastEditedTime = time.Now().UTC()
	return p, nil
}

func (w *fakeWorkspace) ArchivePage(_ context.Context, id string) error {
	w.calls++
	p, ok := w.pages[id]
	if !ok {
		return fmt.Errorf("page %s: %w", id, syncerr.ErrNotFound)
	}
	p.Archived = true
	return nil
}

func (w *fakeWorkspace) GetPageBlocks(_ context.Context, id string) ([]notion.Block, error) {
	w.calls++
	return w.blocks[id], nil
}

func (w *fakeWorkspace) GetBlockChildren(_ context.Context, id string) ([]notion.Block, error) {
	w.calls++
	return w.blocks[id], nil
}

func (w *fakeWorkspace) CountUpdatedSince(_ context.Context, _ string, since time.Time) (int, error) {
	w.calls++
	n := 0
	for _, p := range w.pages {
		if p.LastEditedTime.After(since) {
			n++
		}
	}
	return n, nil
}

func (w *fakeWorkspace) Calls() int { return w.calls }

// fakeStore is an in-memory Store keyed by local id.
type fakeStore struct {
	rows    map[string]*record.Record
	order   []string
	cursors map[string]time.Time
	nextID  int
	calls   int

	failSelect error
	failUpsert map[string]error // keyed by external id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:       make(map[string]*record.Record),
		cursors:    make(map[string]time.Time),
		failUpsert: make(map[string]error),
	}
}

func (s *fakeStore) addRow(rec *record.Record) *record.Record {
	s.nextID++
	rec.LocalID = "row-" + strconv.Itoa(s.nextID)
	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}
	s.rows[rec.LocalID] = rec
	s.order = append(s.order, rec.LocalID)
	return rec
}

func (s *fakeStore) SelectActive(_ context.Context, _ string) ([]*record.Record, error) {
	s.calls++
	if s.failSelect != nil {
		return nil, s.failSelect
	}
	var out []*record.Record
	for _, id := range s.order {
		if r := s.rows[id]; !r.Deleted {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) SelectUpdatedSince(_ context.Context, _ string, since time.Time) ([]*record.Record, error) {
	s.calls++
	var out []*record.Record
	for _, id := range s.order {
		if r := s.rows[id]; !r.Deleted && r.UpdatedAt.After(since) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) SelectDeletedSince(_ context.Context, _ string, since time.Time) ([]*record.Record, error) {
	s.calls++
	var out []*record.Record
	for _, id := range s.order {
		r := s.rows[id]
		if !r.Deleted {
			continue
		}
		if r.DeletedAt != nil && !since.IsZero() && !r.DeletedAt.After(since) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *fakeStore) GetByExternalID(_ context.Context, _, externalID string) (*record.Record, error) {
	s.calls++
	for _, r := range s.rows {
		if r.ExternalID == externalID {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpsertByExternalID(_ context.Context, _ string, rec *record.Record) (string, error) {
	s.calls++
	if err := s.failUpsert[rec.ExternalID]; err != nil {
		return "", err
	}
	for id, r := range s.rows {
		if r.ExternalID == rec.ExternalID {
			c := rec.Clone()
			c.LocalID = id
			s.rows[id] = c
			return id, nil
		}
	}
	added := s.addRow(rec.Clone())
	return added.LocalID, nil
}

func (s *fakeStore) UpsertByProviderID(_ context.Context, _ string, rec *record.Record) (string, error) {
	s.calls++
	for id, r := range s.rows {
		if r.ProviderID == rec.ProviderID {
			c := rec.Clone()
			c.LocalID = id
			s.rows[id] = c
			return id, nil
		}
	}
	added := s.addRow(rec.Clone())
	return added.LocalID, nil
}

func (s *fakeStore) UpdateFields(_ context.Context, _, localID string, fields map[string]any) error {
	s.calls++
	r, ok := s.rows[localID]
	if !ok {
		return fmt.Errorf("row %s: %w", localID, syncerr.ErrNotFound)
	}
	for k, v := range fields {
		switch k {
		case "notion_page_id":
			if v == nil {
				r.ExternalID = ""
			} else {
				r.ExternalID = v.(string)
			}
		case "notion_updated_at":
			r.WorkspaceUpdatedAt = v.(time.Time)
		case "google_contact_id":
			r.ProviderID = v.(string)
		case "last_sync_source":
			r.SyncSource = record.Source(v.(string))
		default:
			r.Fields[k] = v
		}
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) SoftDelete(_ context.Context, _, localID string, source record.Source) error {
	s.calls++
	r, ok := s.rows[localID]
	if !ok {
		return fmt.Errorf("row %s: %w", localID, syncerr.ErrNotFound)
	}
	now := time.Now().UTC()
	r.Deleted = true
	r.DeletedAt = &now
	r.SyncSource = source
	return nil
}

func (s *fakeStore) CountActive(_ context.Context, _ string) (int, error) {
	s.calls++
	n := 0
	for _, r := range s.rows {
		if !r.Deleted {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountUpdatedSince(_ context.Context, _ string, since time.Time) (int, error) {
	s.calls++
	n := 0
	for _, r := range s.rows {
		if r.UpdatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Cursor(_ context.Context, entity string) (time.Time, error) {
	s.calls++
	return s.cursors[entity], nil
}

func (s *fakeStore) SetCursor(_ context.Context, entity string, t time.Time) error {
	s.calls++
	s.cursors[entity] = t
	return nil
}

func (s *fakeStore) Calls() int { return s.calls }

// activeRows returns non-deleted rows in insertion order.
func (s *fakeStore) activeRows() []*record.Record {
	var out []*record.Record
	for _, id := range s.order {
		if r := s.rows[id]; !r.Deleted {
			out = append(out, r)
		}
	}
	return out
}

// fakeProvider is an in-memory Provider feed.
type fakeProvider struct {
	records []*record.Record
	calls   int
	failErr error
}

func (p *fakeProvider) Fetch(_ context.Context, _ string, since time.Time) ([]*record.Record, error) {
	p.calls++
	if p.failErr != nil {
		return nil, p.failErr
	}
	var out []*record.Record
	for _, r := range p.records {
		if !since.IsZero() && !r.UpdatedAt.After(since) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (p *fakeProvider) Create(_ context.Context, _ string, rec *record.Record) (string, error) {
	p.calls++
	rec.ProviderID = fmt.Sprintf("prov-%d", len(p.records)+1)
	p.records = append(p.records, rec.Clone())
	return rec.ProviderID, nil
}

func (p *fakeProvider) Update(_ context.Context, _ string, rec *record.Record) error {
	p.calls++
	for i, r := range p.records {
		if r.ProviderID == rec.ProviderID {
			p.records[i] = rec.Clone()
			return nil
		}
	}
	return fmt.Errorf("record %s: %w", rec.ProviderID, syncerr.ErrNotFound)
}

func (p *fakeProvider) Calls() int { return p.calls }

// fakeSink collects audit entries in memory.
type fakeSink struct {
	entries []*audit.Entry
}

func (s *fakeSink) Write(_ context.Context, e *audit.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}
