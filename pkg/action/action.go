// Package action defines the server-side actions a dashboard can start, the
// registry they live in and the runner that executes them in the background
// while streaming progress frames onto the bus.
package action

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/odvcencio/actionator/pkg/errors"
)

// SubjectPrefix prefixes the bus subject every run publishes on.
const SubjectPrefix = "actionator.run."

// Field types understood by the start-form generator.
const (
	FieldText     = "text"
	FieldNumber   = "number"
	FieldTextarea = "textarea"
	FieldSelect   = "select"
	FieldCheckbox = "checkbox"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Params are the collected start-form values, passed through unchanged.
type Params map[string]string

// Field describes one input on an action's start form.
type Field struct {
	Name    string   `yaml:"name" json:"name"`
	Label   string   `yaml:"label,omitempty" json:"label,omitempty"`
	Type    string   `yaml:"type,omitempty" json:"type,omitempty"`
	Default string   `yaml:"default,omitempty" json:"default,omitempty"`
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// DisplayLabel returns the label or, when empty, the field name.
func (f Field) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// InputType returns the normalized field type.
func (f Field) InputType() string {
	switch strings.ToLower(strings.TrimSpace(f.Type)) {
	case FieldNumber, "int", "float":
		return FieldNumber
	case FieldTextarea:
		return FieldTextarea
	case FieldSelect:
		return FieldSelect
	case FieldCheckbox, "bool":
		return FieldCheckbox
	default:
		return FieldText
	}
}

// Emitter receives the progress messages of one run.
type Emitter interface {
	Emit(msg string)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(msg string)

// Emit calls f(msg).
func (f EmitterFunc) Emit(msg string) { f(msg) }

// Func executes an action. It runs detached from the start request and
// reports progress through emit.
type Func func(ctx context.Context, params Params, emit Emitter) error

// Definition is a registered action.
type Definition struct {
	Name        string
	Title       string
	Description string // markdown
	Fields      []Field
	Func        Func

	source string
}

// DisplayTitle returns Title, or the name with underscores turned into
// spaces and each word capitalized.
func (d Definition) DisplayTitle() string {
	if d.Title != "" {
		return d.Title
	}
	words := strings.Fields(strings.ReplaceAll(d.Name, "_", " "))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Validate checks that the definition can be registered.
func (d Definition) Validate() error {
	if !ValidName(d.Name) {
		return apperrors.Newf(apperrors.ErrCodeActionInvalid, "invalid action name %q", d.Name)
	}
	if d.Func == nil {
		return apperrors.Newf(apperrors.ErrCodeActionInvalid, "action %q has no function", d.Name)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return apperrors.Newf(apperrors.ErrCodeActionInvalid, "action %q has an unnamed field", d.Name)
		}
		if seen[f.Name] {
			return apperrors.Newf(apperrors.ErrCodeActionInvalid, "action %q declares field %q twice", d.Name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// ValidName reports whether name is usable as an action name and bus subject
// token.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// ValidRunID reports whether id is acceptable as a client-issued run id.
func ValidRunID(id string) bool {
	return namePattern.MatchString(id)
}

// Subject returns the bus subject progress for the named action is published on.
func Subject(name string) string {
	return SubjectPrefix + name
}
