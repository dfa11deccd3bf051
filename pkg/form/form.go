// Package form turns start-form markup into the flat parameter mapping sent
// with a start request.
package form

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrFormNotFound is returned when the markup holds no matching form.
var ErrFormNotFound = errors.New("form not found")

// Field is one successful control of a form.
type Field struct {
	Name  string
	Value string
}

// Form is a parsed form element. Fields are kept in document order and may
// repeat a name.
type Form struct {
	ID     string
	Action string
	Method string
	Fields []Field
}

// Parse extracts the form with the given id from markup. An empty formID
// selects the first form.
//
// Only controls a browser would submit are kept: disabled and unnamed
// controls, unchecked checkboxes and radios, and buttons are skipped.
func Parse(markup, formID string) (*Form, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse form markup: %w", err)
	}

	sel := doc.Find("form")
	if formID != "" {
		sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
			id, _ := s.Attr("id")
			return id == formID
		})
	}
	sel = sel.First()
	if sel.Length() == 0 {
		if formID == "" {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("%w: %q", ErrFormNotFound, formID)
	}

	f := &Form{
		ID:     sel.AttrOr("id", ""),
		Action: sel.AttrOr("action", ""),
		Method: strings.ToLower(sel.AttrOr("method", "get")),
	}
	sel.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		f.Fields = append(f.Fields, controlFields(s)...)
	})
	return f, nil
}

func controlFields(s *goquery.Selection) []Field {
	name, ok := s.Attr("name")
	if !ok || name == "" {
		return nil
	}
	if _, disabled := s.Attr("disabled"); disabled {
		return nil
	}

	switch goquery.NodeName(s) {
	case "textarea":
		return []Field{{Name: name, Value: s.Text()}}
	case "select":
		return selectFields(name, s)
	}

	switch strings.ToLower(s.AttrOr("type", "text")) {
	case "submit", "button", "reset", "image", "file":
		return nil
	case "checkbox", "radio":
		if _, checked := s.Attr("checked"); !checked {
			return nil
		}
		return []Field{{Name: name, Value: s.AttrOr("value", "on")}}
	default:
		return []Field{{Name: name, Value: s.AttrOr("value", "")}}
	}
}

func selectFields(name string, s *goquery.Selection) []Field {
	options := s.Find("option")
	selected := options.FilterFunction(func(_ int, o *goquery.Selection) bool {
		_, ok := o.Attr("selected")
		return ok
	})
	if selected.Length() == 0 {
		if _, multiple := s.Attr("multiple"); multiple {
			return nil
		}
		selected = options.First()
	}

	var out []Field
	selected.Each(func(_ int, o *goquery.Selection) {
		value, ok := o.Attr("value")
		if !ok {
			value = strings.TrimSpace(o.Text())
		}
		out = append(out, Field{Name: name, Value: value})
	})
	return out
}

// Set gives every field called name the value, appending a field when none
// exists. It stands in for user input before submit.
func (f *Form) Set(name, value string) {
	found := false
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			f.Fields[i].Value = value
			found = true
		}
	}
	if !found {
		f.Fields = append(f.Fields, Field{Name: name, Value: value})
	}
}

// Collect returns the field name to value mapping of f. When a name repeats,
// the last value wins. Values are passed through as-is.
func Collect(f *Form) map[string]string {
	out := make(map[string]string)
	if f == nil {
		return out
	}
	for _, field := range f.Fields {
		out[field.Name] = field.Value
	}
	return out
}

// FromValues builds a form from already-decoded values, in name order.
func FromValues(values url.Values) *Form {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	f := &Form{Method: "post"}
	for _, name := range names {
		for _, v := range values[name] {
			f.Fields = append(f.Fields, Field{Name: name, Value: v})
		}
	}
	return f
}
