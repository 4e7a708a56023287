// Package codec converts between workspace page properties and flat
// record fields, driven by per-entity mapping tables.
package codec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind names a workspace property type the codec understands.
type Kind string

const (
	KindTitle       Kind = "title"
	KindRichText    Kind = "rich_text"
	KindNumber      Kind = "number"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multi_select"
	KindDate        Kind = "date"
	KindCheckbox    Kind = "checkbox"
	KindURL         Kind = "url"
	KindEmail       Kind = "email"
	KindPhone       Kind = "phone_number"
	KindRelation    Kind = "relation"
)

var knownKinds = map[Kind]bool{
	KindTitle: true, KindRichText: true, KindNumber: true,
	KindSelect: true, KindMultiSelect: true, KindDate: true,
	KindCheckbox: true, KindURL: true, KindEmail: true,
	KindPhone: true, KindRelation: true,
}

// PropertyMapping binds one workspace property to one record field.
type PropertyMapping struct {
	// Property is the workspace property name, e.g. "Due Date".
	Property string `yaml:"property"`
	// Field is the record field name, e.g. "due_date".
	Field string `yaml:"field"`
	// Kind is the workspace property type.
	Kind Kind `yaml:"kind"`
}

// Table holds the property mappings for every entity, keyed by entity
// name. Tables load from YAML so mappings can change without a rebuild.
type Table map[string][]PropertyMapping

// LoadTable reads a mapping table from a YAML file and validates it.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse mapping table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks every mapping names a known kind and has no duplicate
// field bindings within an entity.
func (t Table) Validate() error {
	for entity, mappings := range t {
		seen := make(map[string]bool)
		for _, m := range mappings {
			if m.Property == "" || m.Field == "" {
				return fmt.Errorf("entity %s: mapping with empty property or field", entity)
			}
			if !knownKinds[m.Kind] {
				return fmt.Errorf("entity %s: property %s has unknown kind %q", entity, m.Property, m.Kind)
			}
			if seen[m.Field] {
				return fmt.Errorf("entity %s: field %s mapped twice", entity, m.Field)
			}
			seen[m.Field] = true
		}
	}
	return nil
}

// For returns the mappings for an entity, or nil if none are declared.
func (t Table) For(entity string) []PropertyMapping {
	return t[entity]
}

// DefaultTable returns the built-in mapping table. Deployments override
// it with a YAML file; the defaults keep a fresh checkout runnable.
func DefaultTable() Table {
	return Table{
		"contacts": {
			{Property: "Name", Field: "full_name", Kind: KindTitle},
			{Property: "Email", Field: "email", Kind: KindEmail},
			{Property: "Phone", Field: "phone", Kind: KindPhone},
			{Property: "Company", Field: "company", Kind: KindRichText},
			{Property: "Role", Field: "role", Kind: KindRichText},
			{Property: "Tags", Field: "tags", Kind: KindMultiSelect},
			{Property: "Last Contacted", Field: "last_contacted", Kind: KindDate},
		},
		"meetings": {
			{Property: "Title", Field: "title", Kind: KindTitle},
			{Property: "Date", Field: "scheduled_at", Kind: KindDate},
			{Property: "Status", Field: "status", Kind: KindSelect},
			{Property: "Attendees", Field: "attendees", Kind: KindMultiSelect},
			{Property: "Location", Field: "location", Kind: KindRichText},
		},
		"tasks": {
			{Property: "Name", Field: "title", Kind: KindTitle},
			{Property: "Done", Field: "done", Kind: KindCheckbox},
			{Property: "Due", Field: "due_date", Kind: KindDate},
			{Property: "Priority", Field: "priority", Kind: KindSelect},
			{Property: "Project", Field: "project", Kind: KindRichText},
		},
		"reflections": {
			{Property: "Title", Field: "title", Kind: KindTitle},
			{Property: "Date", Field: "entry_date", Kind: KindDate},
			{Property: "Mood", Field: "mood", Kind: KindSelect},
		},
		"journals": {
			{Property: "Title", Field: "title", Kind: KindTitle},
			{Property: "Date", Field: "entry_date", Kind: KindDate},
		},
		"books": {
			{Property: "Title", Field: "title", Kind: KindTitle},
			{Property: "Author", Field: "author", Kind: KindRichText},
			{Property: "Status", Field: "status", Kind: KindSelect},
			{Property: "Rating", Field: "rating", Kind: KindNumber},
			{Property: "Link", Field: "url", Kind: KindURL},
		},
		"highlights": {
			{Property: "Book", Field: "book_title", Kind: KindTitle},
			{Property: "Page", Field: "page", Kind: KindNumber},
		},
		"chat_messages": {
			{Property: "Message", Field: "message", Kind: KindTitle},
			{Property: "Channel", Field: "channel", Kind: KindSelect},
			{Property: "Sent", Field: "sent_at", Kind: KindDate},
		},
	}
}
