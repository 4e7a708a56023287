package codec

import (
	"fmt"
	"time"

	"github.com/jmartens/lifesync/internal/notion"
)

// Decoded is the result of decoding one page.
type Decoded struct {
	// Fields holds the decoded values keyed by record field name.
	// Missing properties decode to nil so downstream writes clear them.
	Fields map[string]any
	// Dropped counts properties whose payloads were present but could
	// not be represented, e.g. an unparsable date.
	Dropped int
}

// Decode converts a page's properties to record fields using an entity's
// mapping. Properties the mapping does not name are ignored. A mapped
// property whose actual type disagrees with the declared kind is a decode
// failure for the whole record; the caller isolates it and moves on.
func Decode(page *notion.Page, mappings []PropertyMapping) (*Decoded, error) {
	out := &Decoded{Fields: make(map[string]any, len(mappings))}
	for _, m := range mappings {
		prop, ok := page.Properties[m.Property]
		if !ok || prop == nil {
			out.Fields[m.Field] = nil
			continue
		}
		if prop.Type != "" && prop.Type != string(m.Kind) {
			return nil, fmt.Errorf("property %q: mapping declares %s but page has %s", m.Property, m.Kind, prop.Type)
		}
		val, ok := decodeValue(prop, m.Kind)
		if !ok {
			out.Dropped++
			out.Fields[m.Field] = nil
			continue
		}
		out.Fields[m.Field] = val
	}
	return out, nil
}

// decodeValue extracts one property value. The second return is false
// when the payload exists but cannot be represented.
func decodeValue(p *notion.Property, kind Kind) (any, bool) {
	switch kind {
	case KindTitle, KindRichText:
		return stringOrNil(p.PlainText()), true
	case KindNumber:
		if p.Number == nil {
			return nil, true
		}
		return *p.Number, true
	case KindSelect:
		if p.Select == nil {
			return nil, true
		}
		return p.Select.Name, true
	case KindMultiSelect:
		if len(p.MultiSelect) == 0 {
			return nil, true
		}
		names := make([]string, len(p.MultiSelect))
		for i, o := range p.MultiSelect {
			names[i] = o.Name
		}
		return names, true
	case KindDate:
		if p.Date == nil || p.Date.Start == "" {
			return nil, true
		}
		t, err := parseFlexibleTime(p.Date.Start)
		if err != nil {
			return nil, false
		}
		return t, true
	case KindCheckbox:
		if p.Checkbox == nil {
			return false, true
		}
		return *p.Checkbox, true
	case KindURL:
		return deref(p.URL), true
	case KindEmail:
		return deref(p.Email), true
	case KindPhone:
		return deref(p.PhoneNumber), true
	case KindRelation:
		if len(p.Relation) == 0 {
			return nil, true
		}
		ids := make([]string, len(p.Relation))
		for i, r := range p.Relation {
			ids[i] = r.ID
		}
		return ids, true
	}
	return nil, false
}

// Encode converts record fields to a property bag for a page write.
// Nil values are omitted entirely rather than sent as explicit nulls, so
// a push never clears properties the store has no opinion on.
func Encode(fields map[string]any, mappings []PropertyMapping) (notion.Properties, error) {
	props := make(notion.Properties)
	for _, m := range mappings {
		val, ok := fields[m.Field]
		if !ok || val == nil {
			continue
		}
		p, err := encodeValue(val, m.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", m.Field, err)
		}
		if p != nil {
			props[m.Property] = p
		}
	}
	return props, nil
}

func encodeValue(val any, kind Kind) (*notion.Property, error) {
	switch kind {
	case KindTitle:
		s, err := asString(val)
		if err != nil {
			return nil, err
		}
		return &notion.Property{Title: notion.NewRichText(s)}, nil
	case KindRichText:
		s, err := asString(val)
		if err != nil {
			return nil, err
		}
		return &notion.Property{RichText: notion.NewRichText(s)}, nil
	case KindNumber:
		switch n := val.(type) {
		case float64:
			return &notion.Property{Number: &n}, nil
		case int:
			f := float64(n)
			return &notion.Property{Number: &f}, nil
		case int64:
			f := float64(n)
			return &notion.Property{Number: &f}, nil
		}
		return nil, fmt.Errorf("expected number, got %T", val)
	case KindSelect:
		s, err := asString(val)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return &notion.Property{Select: &notion.SelectOption{Name: s}}, nil
	case KindMultiSelect:
		names, err := asStrings(val)
		if err != nil {
			return nil, err
		}
		opts := make([]notion.SelectOption, len(names))
		for i, n := range names {
			opts[i] = notion.SelectOption{Name: n}
		}
		return &notion.Property{MultiSelect: opts}, nil
	case KindDate:
		t, ok := val.(time.Time)
		if !ok {
			s, err := asString(val)
			if err != nil {
				return nil, fmt.Errorf("expected time, got %T", val)
			}
			parsed, err := parseFlexibleTime(s)
			if err != nil {
				return nil, err
			}
			t = parsed
		}
		return &notion.Property{Date: &notion.DateValue{Start: t.UTC().Format(time.RFC3339)}}, nil
	case KindCheckbox:
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", val)
		}
		return &notion.Property{Checkbox: &b}, nil
	case KindURL:
		s, err := asString(val)
		if err != nil {
			return nil, err
		}
		return &notion.Property{URL: &s}, nil
	case KindEmail:
		s, err := asString(val)
		if err != nil {
			return nil, err
		}
		return &notion.Property{Email: &s}, nil
	case KindPhone:
		s, err := asString(val)
		if err != nil {
			return nil, err
		}
		return &notion.Property{PhoneNumber: &s}, nil
	case KindRelation:
		ids, err := asStrings(val)
		if err != nil {
			return nil, err
		}
		refs := make([]notion.RelationRef, len(ids))
		for i, id := range ids {
			refs[i] = notion.RelationRef{ID: id}
		}
		return &notion.Property{Relation: refs}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", kind)
}

func parseFlexibleTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func asString(val any) (string, error) {
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", val)
	}
	return s, nil
}

func asStrings(val any) ([]string, error) {
	switch v := val.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, got %T element", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string list, got %T", val)
}
