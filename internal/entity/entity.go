// Package entity declares the synchronized collections and how each one
// is reconciled. The engine and daemon are generic; everything
// entity-specific lives in these configs.
package entity

// Topology selects the reconciliation shape for an entity.
type Topology string

const (
	// TopologyOneWay mirrors a single source into the store.
	TopologyOneWay Topology = "one-way"
	// TopologyTwoWay reconciles the workspace and the store in both
	// directions, including deletions.
	TopologyTwoWay Topology = "two-way"
	// TopologyUnified reconciles three systems: the provider is
	// authoritative for identity fields, the workspace for the rest.
	TopologyUnified Topology = "unified"
)

// SourceKind names where a one-way entity's records come from.
type SourceKind string

const (
	SourceWorkspacePages SourceKind = "workspace"
	SourceProviderFeed   SourceKind = "provider"
)

// Config describes one synchronized entity.
type Config struct {
	// Name is the entity's identifier, used in cursors, audit rows,
	// log lines, and HTTP routes.
	Name string

	// Table is the store table backing the entity.
	Table string

	// WorkspaceDBKey selects which configured workspace database id to
	// use. Empty for provider-only entities.
	WorkspaceDBKey string

	// Topology selects the reconciliation shape.
	Topology Topology

	// Source is where one-way records originate. Ignored for two-way
	// and unified entities.
	Source SourceKind

	// ProviderFeed names the provider feed, e.g. "calendar" or
	// "contacts". Empty when no provider is involved.
	ProviderFeed string

	// DestinationOwned lists store fields the workspace never writes.
	// They are carried forward verbatim on every update.
	DestinationOwned []string

	// ProviderOwned lists identity fields the provider is authoritative
	// for in the unified topology. The workspace hop never writes them.
	ProviderOwned []string

	// ContentField, when set, receives the page body text extracted
	// from blocks.
	ContentField string

	// Sections, when true, splits the page body on second-level
	// headings into titled sections instead of one flat text field.
	Sections bool
}

// All returns every entity in pass order. The order is fixed: passes,
// audit rows, and the status endpoint all present entities this way.
func All() []Config {
	return []Config{
		{
			Name:             "contacts",
			Table:            "contacts",
			WorkspaceDBKey:   "contacts",
			Topology:         TopologyUnified,
			ProviderFeed:     "contacts",
			ProviderOwned:    []string{"full_name", "email", "phone"},
			DestinationOwned: []string{"enriched_at", "lead_score"},
		},
		{
			Name:             "meetings",
			Table:            "meetings",
			WorkspaceDBKey:   "meetings",
			Topology:         TopologyTwoWay,
			DestinationOwned: []string{"transcript_url", "recording_url", "ai_summary"},
			ContentField:     "notes",
		},
		{
			Name:             "tasks",
			Table:            "tasks",
			WorkspaceDBKey:   "tasks",
			Topology:         TopologyTwoWay,
			DestinationOwned: []string{"reminder_sent_at"},
		},
		{
			Name:           "reflections",
			Table:          "reflections",
			WorkspaceDBKey: "reflections",
			Topology:       TopologyTwoWay,
			ContentField:   "body",
			Sections:       true,
		},
		{
			Name:           "journals",
			Table:          "journal_entries",
			WorkspaceDBKey: "journals",
			Topology:       TopologyTwoWay,
			ContentField:   "body",
			Sections:       true,
		},
		{
			Name:         "calendar_events",
			Table:        "calendar_events",
			Topology:     TopologyOneWay,
			Source:       SourceProviderFeed,
			ProviderFeed: "calendar",
		},
		{
			Name:         "emails",
			Table:        "emails",
			Topology:     TopologyOneWay,
			Source:       SourceProviderFeed,
			ProviderFeed: "gmail",
		},
		{
			Name:           "books",
			Table:          "books",
			WorkspaceDBKey: "books",
			Topology:       TopologyOneWay,
			Source:         SourceWorkspacePages,
		},
		{
			Name:           "highlights",
			Table:          "highlights",
			WorkspaceDBKey: "highlights",
			Topology:       TopologyOneWay,
			Source:         SourceWorkspacePages,
			ContentField:   "text",
		},
		{
			Name:           "chat_messages",
			Table:          "chat_messages",
			WorkspaceDBKey: "chat_messages",
			Topology:       TopologyOneWay,
			Source:         SourceWorkspacePages,
		},
	}
}

// ByName returns the config for a named entity, or false.
func ByName(name string) (Config, bool) {
	for _, c := range All() {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}

// Names returns entity names in pass order.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name
	}
	return names
}

// Tables returns the backing table of every entity, in pass order.
func Tables() []string {
	all := All()
	tables := make([]string, len(all))
	for i, c := range all {
		tables[i] = c.Table
	}
	return tables
}
