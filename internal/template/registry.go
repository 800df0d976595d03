package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Source is one layered workflow definition input. Later sources win on a
// per-type basis (builtin defaults, then extension packs, then project
// overrides).
type Source struct {
	Name string
	Data []byte
}

// ValidationResult is the answer to a transition legality query. Hard
// enforcement turns missing fields into Allowed=false; soft enforcement
// reports them as warnings only.
type ValidationResult struct {
	Allowed  bool     `json:"allowed"`
	Missing  []string `json:"missing,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// DefaultInitialState is used for issue types with no registered template.
const DefaultInitialState = "open"

// fallbackCategories resolves states of unregistered types, and the
// archival marker for templates that predate it.
var fallbackCategories = map[string]Category{
	"open":        CategoryOpen,
	"blocked":     CategoryOpen,
	"in_progress": CategoryWip,
	"closed":      CategoryDone,
	"archived":    CategoryDone,
}

// Registry holds validated, immutable workflow templates and answers
// lookups through maps precomputed at load time. It is constructed
// explicitly and handed to the engine; Reload re-reads the retained
// sources and rebuilds the caches.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
	enabled map[string]bool

	templates   map[string]*Template
	categories  map[string]map[string]Category
	transitions map[string]map[string][]Transition
}

func NewRegistry() *Registry {
	return &Registry{
		templates:   map[string]*Template{},
		categories:  map[string]map[string]Category{},
		transitions: map[string]map[string][]Transition{},
	}
}

// Load parses the given sources in order and rebuilds the lookup maps.
// Loading the same sources twice yields the same registry state. An empty
// enabled list enables every pack.
func (r *Registry) Load(sources []Source, enabled []string) error {
	var enabledSet map[string]bool
	if len(enabled) > 0 {
		enabledSet = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			enabledSet[name] = true
		}
	}

	templates := map[string]*Template{}
	for _, src := range sources {
		pack, err := ParsePack(src.Name, src.Data)
		if err != nil {
			return err
		}
		if enabledSet != nil && !enabledSet[pack.Name] {
			continue
		}
		for typ, tpl := range pack.Types {
			templates[typ] = tpl
		}
	}

	categories := make(map[string]map[string]Category, len(templates))
	transitions := make(map[string]map[string][]Transition, len(templates))
	for typ, tpl := range templates {
		cats := make(map[string]Category, len(tpl.States))
		for _, s := range tpl.States {
			cats[s.Name] = s.Category
		}
		categories[typ] = cats
		byFrom := make(map[string][]Transition)
		for _, tr := range tpl.Transitions {
			byFrom[tr.From] = append(byFrom[tr.From], tr)
		}
		transitions[typ] = byFrom
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = sources
	r.enabled = enabledSet
	r.templates = templates
	r.categories = categories
	r.transitions = transitions
	return nil
}

// Reload clears caches and re-parses the retained sources.
func (r *Registry) Reload() error {
	r.mu.RLock()
	sources := r.sources
	var enabled []string
	for name := range r.enabled {
		enabled = append(enabled, name)
	}
	r.mu.RUnlock()
	return r.Load(sources, enabled)
}

// Get returns the template for a type, if registered.
func (r *Registry) Get(typ string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[typ]
	return tpl, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for typ := range r.templates {
		names = append(names, typ)
	}
	sort.Strings(names)
	return names
}

// InitialState returns the initial state for a type. Unknown types get
// the permissive default rather than an error.
func (r *Registry) InitialState(typ string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tpl, ok := r.templates[typ]; ok {
		return tpl.InitialState
	}
	return DefaultInitialState
}

// Category resolves (type, state) to its category in O(1). It is a pure
// function of the loaded definitions.
func (r *Registry) Category(typ, state string) Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cats, ok := r.categories[typ]; ok {
		if c, ok := cats[state]; ok {
			return c
		}
	}
	if c, ok := fallbackCategories[state]; ok {
		return c
	}
	return CategoryOpen
}

// ValidState reports whether state is declared for the type. Unknown
// types accept any state.
func (r *Registry) ValidState(typ, state string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cats, ok := r.categories[typ]
	if !ok {
		return true
	}
	_, ok = cats[state]
	return ok
}

// ValidTransitions returns the declared transitions out of a state. For
// unknown types it returns nil, which callers treat as "all allowed".
func (r *Registry) ValidTransitions(typ, state string) []Transition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byFrom, ok := r.transitions[typ]
	if !ok {
		return nil
	}
	out := make([]Transition, len(byFrom[state]))
	copy(out, byFrom[state])
	return out
}

// ValidateTransition checks the legality of from->to for a type given the
// issue's current field bag. Unknown types are permissive: every
// transition is allowed.
func (r *Registry) ValidateTransition(typ, from, to string, fields map[string]string) ValidationResult {
	r.mu.RLock()
	_, known := r.templates[typ]
	r.mu.RUnlock()
	if !known {
		return ValidationResult{Allowed: true}
	}
	if from == to {
		return ValidationResult{Allowed: true}
	}

	var match *Transition
	for _, tr := range r.ValidTransitions(typ, from) {
		if tr.To == to {
			t := tr
			match = &t
			break
		}
	}
	if match == nil {
		return ValidationResult{
			Allowed:  false,
			Warnings: []string{fmt.Sprintf("no transition %s -> %s declared for type %s", from, to, typ)},
		}
	}

	var missing []string
	for _, req := range match.RequiresFields {
		if fields[req] == "" {
			missing = append(missing, req)
		}
	}
	if len(missing) == 0 {
		return ValidationResult{Allowed: true}
	}
	if match.Enforcement == EnforceHard {
		return ValidationResult{Allowed: false, Missing: missing}
	}
	warnings := make([]string, 0, len(missing))
	for _, m := range missing {
		warnings = append(warnings, fmt.Sprintf("field %s recommended for %s -> %s", m, from, to))
	}
	return ValidationResult{Allowed: true, Missing: missing, Warnings: warnings}
}

// RequiredFields returns the field names a type declares mandatory at
// the given state. Unknown types require nothing.
func (r *Registry) RequiredFields(typ, state string) []string {
	r.mu.RLock()
	tpl, ok := r.templates[typ]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var req []string
	for _, f := range tpl.Fields {
		for _, st := range f.RequiredIn {
			if st == state {
				req = append(req, f.Name)
				break
			}
		}
	}
	return req
}

// ValidateFields checks a field bag against the type's schema: unknown
// keys and enum violations are rejected for registered types.
func (r *Registry) ValidateFields(typ string, fields map[string]string) error {
	r.mu.RLock()
	tpl, known := r.templates[typ]
	r.mu.RUnlock()
	if !known {
		return nil
	}
	for key, val := range fields {
		spec, ok := tpl.Field(key)
		if !ok {
			return fmt.Errorf("unknown field %s for type %s", key, typ)
		}
		if len(spec.Values) > 0 && val != "" {
			allowed := false
			for _, v := range spec.Values {
				if v == val {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("field %s: value %q not in allowed set", key, val)
			}
		}
	}
	return nil
}

// LoadDir reads extension pack sources from a directory of .yml/.yaml
// files, sorted by filename so layering is deterministic.
func LoadDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	var sources []Source
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{Name: name, Data: data})
	}
	return sources, nil
}
