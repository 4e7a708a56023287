package notion

import (
	"encoding/json"
	"strings"
	"time"
)

// Page is a workspace page as returned by the query/get endpoints.
type Page struct {
	ID             string               `json:"id"`
	CreatedTime    time.Time            `json:"created_time"`
	LastEditedTime time.Time            `json:"last_edited_time"`
	Archived       bool                 `json:"archived"`
	URL            string               `json:"url"`
	Properties     map[string]*Property `json:"properties"`
}

// Properties is the property bag sent on page create/update.
// Keys are property names; values are typed property payloads.
type Properties map[string]*Property

// Property is one typed property value. Exactly one of the typed fields
// is populated, matching Type. The same struct serves both reads and
// writes; omitempty keeps write payloads minimal so absent fields are
// never sent as explicit nulls.
type Property struct {
	Type string `json:"type,omitempty"`

	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Date        *DateValue     `json:"date,omitempty"`
	Checkbox    *bool          `json:"checkbox,omitempty"`
	URL         *string        `json:"url,omitempty"`
	Email       *string        `json:"email,omitempty"`
	PhoneNumber *string        `json:"phone_number,omitempty"`
	Relation    []RelationRef  `json:"relation,omitempty"`
}

// PlainText flattens the rich text of a title or rich_text property.
func (p *Property) PlainText() string {
	var parts []string
	for _, rt := range p.Title {
		parts = append(parts, rt.Plain())
	}
	for _, rt := range p.RichText {
		parts = append(parts, rt.Plain())
	}
	return strings.Join(parts, "")
}

// RichText is one span of formatted text. Reads carry plain_text; writes
// carry text.content.
type RichText struct {
	PlainText string    `json:"plain_text,omitempty"`
	Text      *TextSpan `json:"text,omitempty"`
}

// Plain returns the span's text regardless of which side populated it.
func (rt RichText) Plain() string {
	if rt.PlainText != "" {
		return rt.PlainText
	}
	if rt.Text != nil {
		return rt.Text.Content
	}
	return ""
}

// TextSpan is the write-side content of a rich text span.
type TextSpan struct {
	Content string `json:"content"`
}

// NewRichText builds a single-span rich text suitable for writes.
func NewRichText(content string) []RichText {
	return []RichText{{Text: &TextSpan{Content: content}}}
}

// SelectOption is one select or multi-select choice.
type SelectOption struct {
	Name string `json:"name"`
}

// DateValue is a date property payload. Start may be a bare date or a
// full RFC3339 timestamp, mirroring the wire format.
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// RelationRef links a page to another page.
type RelationRef struct {
	ID string `json:"id"`
}

// Block is one unit of page body content. Only the fields the content
// extractor needs are decoded; everything else stays in the raw payload.
type Block struct {
	ID          string
	Type        string
	HasChildren bool
	Text        string
	Checked     *bool
}

// blockEnvelope matches the wire shape: the block's content lives under a
// key named after its type.
type blockEnvelope struct {
	ID          string                     `json:"id"`
	Type        string                     `json:"type"`
	HasChildren bool                       `json:"has_children"`
	Payloads    map[string]json.RawMessage `json:"-"`
}

type blockContent struct {
	RichText []RichText `json:"rich_text"`
	Checked  *bool      `json:"checked"`
}

// UnmarshalJSON decodes a block, pulling the rich text out of the
// type-named sub-object when present.
func (b *Block) UnmarshalJSON(data []byte) error {
	var env blockEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.ID = env.ID
	b.Type = env.Type
	b.HasChildren = env.HasChildren

	payload, ok := raw[env.Type]
	if !ok {
		return nil
	}
	var content blockContent
	if err := json.Unmarshal(payload, &content); err != nil {
		// Block types without rich text (dividers, images) are fine;
		// the extractor treats them as empty.
		return nil
	}
	var parts []string
	for _, rt := range content.RichText {
		if t := rt.Plain(); t != "" {
			parts = append(parts, t)
		}
	}
	b.Text = strings.Join(parts, "")
	b.Checked = content.Checked
	return nil
}
