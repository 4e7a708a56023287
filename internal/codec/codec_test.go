package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmartens/lifesync/internal/notion"
)

var taskMappings = []PropertyMapping{
	{Property: "Name", Field: "title", Kind: KindTitle},
	{Property: "Done", Field: "done", Kind: KindCheckbox},
	{Property: "Due", Field: "due_date", Kind: KindDate},
	{Property: "Priority", Field: "priority", Kind: KindSelect},
	{Property: "Tags", Field: "tags", Kind: KindMultiSelect},
	{Property: "Points", Field: "points", Kind: KindNumber},
}

func TestDecode(t *testing.T) {
	checked := true
	points := 3.0
	page := &notion.Page{
		ID: "page-a",
		Properties: map[string]*notion.Property{
			"Name":     {Type: "title", Title: notion.NewRichText("Ship it")},
			"Done":     {Type: "checkbox", Checkbox: &checked},
			"Due":      {Type: "date", Date: &notion.DateValue{Start: "2026-04-01"}},
			"Priority": {Type: "select", Select: &notion.SelectOption{Name: "high"}},
			"Tags":     {Type: "multi_select", MultiSelect: []notion.SelectOption{{Name: "work"}, {Name: "urgent"}}},
			"Points":   {Type: "number", Number: &points},
			"Ignored":  {Type: "rich_text", RichText: notion.NewRichText("not mapped")},
		},
	}

	dec, err := Decode(page, taskMappings)
	require.NoError(t, err)

	assert.Equal(t, "Ship it", dec.Fields["title"])
	assert.Equal(t, true, dec.Fields["done"])
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), dec.Fields["due_date"])
	assert.Equal(t, "high", dec.Fields["priority"])
	assert.Equal(t, []string{"work", "urgent"}, dec.Fields["tags"])
	assert.Equal(t, 3.0, dec.Fields["points"])
	assert.NotContains(t, dec.Fields, "Ignored", "unmapped properties stay out")
	assert.Zero(t, dec.Dropped)
}

func TestDecodeMissingPropertiesAreNil(t *testing.T) {
	page := &notion.Page{Properties: map[string]*notion.Property{
		"Name": {Type: "title", Title: notion.NewRichText("Sparse")},
	}}

	dec, err := Decode(page, taskMappings)
	require.NoError(t, err)
	assert.Nil(t, dec.Fields["due_date"])
	assert.Contains(t, dec.Fields, "due_date")
}

func TestDecodeTypeMismatchFails(t *testing.T) {
	n := 5.0
	page := &notion.Page{Properties: map[string]*notion.Property{
		"Name": {Type: "number", Number: &n},
	}}

	_, err := Decode(page, taskMappings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name")
}

func TestDecodeUnparsableDateDropped(t *testing.T) {
	page := &notion.Page{Properties: map[string]*notion.Property{
		"Due": {Type: "date", Date: &notion.DateValue{Start: "sometime soon"}},
	}}

	dec, err := Decode(page, taskMappings)
	require.NoError(t, err)
	assert.Nil(t, dec.Fields["due_date"])
	assert.Equal(t, 1, dec.Dropped)
}

func TestEncodeRoundTrip(t *testing.T) {
	fields := map[string]any{
		"title":    "Ship it",
		"done":     true,
		"due_date": time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
		"priority": "high",
		"tags":     []string{"work"},
		"points":   3.0,
	}

	props, err := Encode(fields, taskMappings)
	require.NoError(t, err)

	assert.Equal(t, "Ship it", props["Name"].PlainText())
	require.NotNil(t, props["Done"].Checkbox)
	assert.True(t, *props["Done"].Checkbox)
	assert.Equal(t, "2026-04-01T09:30:00Z", props["Due"].Date.Start)
	assert.Equal(t, "high", props["Priority"].Select.Name)
	require.Len(t, props["Tags"].MultiSelect, 1)
	assert.Equal(t, 3.0, *props["Points"].Number)
}

func TestEncodeOmitsNils(t *testing.T) {
	fields := map[string]any{
		"title":    "Only a title",
		"due_date": nil,
	}

	props, err := Encode(fields, taskMappings)
	require.NoError(t, err)

	assert.Contains(t, props, "Name")
	assert.NotContains(t, props, "Due", "nil fields must not become explicit nulls")
	assert.NotContains(t, props, "Done")
}

func TestEncodeTypeMismatch(t *testing.T) {
	_, err := Encode(map[string]any{"done": "yes"}, taskMappings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "done")
}

func TestTableValidate(t *testing.T) {
	bad := Table{"tasks": {{Property: "X", Field: "x", Kind: "rollup"}}}
	assert.Error(t, bad.Validate())

	dup := Table{"tasks": {
		{Property: "A", Field: "x", Kind: KindTitle},
		{Property: "B", Field: "x", Kind: KindRichText},
	}}
	assert.Error(t, dup.Validate())

	assert.NoError(t, DefaultTable().Validate())
}
