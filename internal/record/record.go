// Package record provides the canonical in-memory representation of one
// entity instance during a reconciliation pass.
//
// Every entity (meeting, task, reflection, journal, contact, calendar event,
// email, book, highlight, chat message) is reduced to the same Record shape
// before the engine decides what to do with it. Records are materialized
// fresh on every pass and discarded when the pass completes; the two external
// stores remain the only durable state.
package record

import (
	"fmt"
	"time"
)

// Source identifies which system produced the most recent accepted write
// for a record. Every mutation the engine applies must stamp it; a write
// path that leaves it empty is a programming defect, not a data condition.
type Source string

const (
	// SourceWorkspace is the structured page/database system (Notion-style).
	SourceWorkspace Source = "workspace"

	// SourceStore is the central relational backing store (Postgres).
	SourceStore Source = "store"

	// SourceProvider is the consumer account provider
	// (Google Calendar/Contacts/Gmail).
	SourceProvider Source = "provider"
)

// Valid reports whether s is one of the three known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceWorkspace, SourceStore, SourceProvider:
		return true
	}
	return false
}

// Record is the normalized shape both sides of a sync are reduced to.
//
// Ownership of truth is split: the relational store owns LocalID and the
// deletion state; the workspace owns ExternalID and its own last-edit time;
// the engine owns the ephemeral merge decision.
type Record struct {
	// ExternalID is the id of the corresponding workspace page.
	// Empty means "not yet linked".
	ExternalID string

	// LocalID is the id of the corresponding relational row.
	// Empty means "not yet created".
	LocalID string

	// ProviderID is the id assigned by the external provider
	// (People resourceName, Calendar event id, Gmail message id).
	// Empty for entities the provider does not participate in.
	ProviderID string

	// Fields holds the entity-specific attributes (title, dates, free
	// text, tags). Keys are unique, order is irrelevant.
	Fields map[string]any

	// UpdatedAt is the last-modification time as reported by the side
	// the record came from. Zero means unknown.
	UpdatedAt time.Time

	// WorkspaceUpdatedAt mirrors the workspace's last-edit time as
	// recorded on the store row. Only meaningful on store-side records.
	WorkspaceUpdatedAt time.Time

	// SyncSource is which system produced the most recent accepted write.
	SyncSource Source

	// Deleted marks a soft-deleted record. A logically absent record is
	// never physically removed from the store, only flagged and mirrored
	// as "archived" on the workspace side.
	Deleted bool

	// DeletedAt is when the record was soft-deleted, if Deleted is set.
	DeletedAt *time.Time

	// SourceFile is a provenance pointer for entities derived from
	// recorded media. Carried through for display, never consulted by
	// the reconciliation logic.
	SourceFile string
}

// Validate checks that the record is safe to hand to a store write.
func (r *Record) Validate() error {
	if r.ExternalID == "" && r.LocalID == "" && r.ProviderID == "" {
		return fmt.Errorf("record has no identifier on any side")
	}
	if r.SyncSource == "" {
		return fmt.Errorf("sync source not stamped")
	}
	if !r.SyncSource.Valid() {
		return fmt.Errorf("unknown sync source %q", r.SyncSource)
	}
	return nil
}

// Field returns the named field value, or nil when absent.
func (r *Record) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// SetField sets a field value, allocating the map on first use.
func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[name] = value
}

// Clone returns a deep-enough copy for the engine to mutate safely.
// Field values themselves are shared; the engine only ever replaces
// whole values, never mutates them in place.
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// Section is one heading-bounded chunk of workspace page content, used for
// entities that store structured free text (journals, reflections).
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}
