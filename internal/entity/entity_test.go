package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllTopologiesAreConsistent(t *testing.T) {
	for _, ec := range All() {
		t.Run(ec.Name, func(t *testing.T) {
			assert.NotEmpty(t, ec.Table)
			switch ec.Topology {
			case TopologyOneWay:
				// Exactly one source side.
				if ec.Source == SourceProviderFeed {
					assert.NotEmpty(t, ec.ProviderFeed)
					assert.Empty(t, ec.WorkspaceDBKey)
				} else {
					assert.NotEmpty(t, ec.WorkspaceDBKey)
					assert.Empty(t, ec.ProviderFeed)
				}
			case TopologyTwoWay:
				assert.NotEmpty(t, ec.WorkspaceDBKey)
				assert.Empty(t, ec.ProviderFeed)
			case TopologyUnified:
				assert.NotEmpty(t, ec.WorkspaceDBKey)
				assert.NotEmpty(t, ec.ProviderFeed)
				assert.NotEmpty(t, ec.ProviderOwned)
			default:
				t.Fatalf("unknown topology %q", ec.Topology)
			}
		})
	}
}

func TestByName(t *testing.T) {
	ec, ok := ByName("contacts")
	require.True(t, ok)
	assert.Equal(t, TopologyUnified, ec.Topology)
	assert.Equal(t, "contacts", ec.Table)

	_, ok = ByName("nonsense")
	assert.False(t, ok)
}

func TestChatMessagesReadFromWorkspace(t *testing.T) {
	ec, ok := ByName("chat_messages")
	require.True(t, ok)
	assert.Equal(t, TopologyOneWay, ec.Topology)
	assert.Equal(t, SourceWorkspacePages, ec.Source,
		"chat exports arrive as workspace pages, not a provider feed")
}

func TestNamesAndTablesAlign(t *testing.T) {
	names := Names()
	tables := Tables()
	require.Equal(t, len(names), len(tables))
	assert.Equal(t, len(All()), len(names))

	// journals is the one entity whose table name differs.
	ec, ok := ByName("journals")
	require.True(t, ok)
	assert.Equal(t, "journal_entries", ec.Table)
}
