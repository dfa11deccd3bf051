package action

import (
	"sort"
	"sync"

	apperrors "github.com/odvcencio/actionator/pkg/errors"
)

const (
	sourceBuiltin = "builtin"
	sourceCommand = "command"
)

// Registry holds the actions the server exposes.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds an action. Names must be unique.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return apperrors.Newf(apperrors.ErrCodeActionInvalid, "action %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Get returns the named action.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all actions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// ReplaceCommands swaps every command-backed action for defs. Builtins and
// directly registered actions are untouched; a command action may not shadow
// one of them. On error the registry is left unchanged.
func (r *Registry) ReplaceCommands(defs []Definition) error {
	next := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := next[def.Name]; dup {
			return apperrors.Newf(apperrors.ErrCodeActionInvalid, "command action %q defined twice", def.Name)
		}
		def.source = sourceCommand
		next[def.Name] = def
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range next {
		if existing, ok := r.defs[name]; ok && existing.source != sourceCommand {
			return apperrors.Newf(apperrors.ErrCodeActionInvalid, "command action %q shadows a built-in action", name)
		}
	}
	for name, def := range r.defs {
		if def.source == sourceCommand {
			delete(r.defs, name)
		}
	}
	for name, def := range next {
		r.defs[name] = def
	}
	return nil
}
