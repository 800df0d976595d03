package template

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Category is the coarse bucket derived from (type, state).
type Category string

const (
	CategoryOpen Category = "open"
	CategoryWip  Category = "wip"
	CategoryDone Category = "done"
)

// Enforcement levels for transitions. Hard blocks the transition until the
// required fields are present; soft allows it with a warning.
const (
	EnforceHard = "hard"
	EnforceSoft = "soft"
)

// Parsing bounds to reject pathological inputs.
const (
	maxStates      = 50
	maxTransitions = 200
	maxFields      = 50
)

type State struct {
	Name     string   `yaml:"name"`
	Category Category `yaml:"category"`
}

type Transition struct {
	From           string   `yaml:"from"`
	To             string   `yaml:"to"`
	Enforcement    string   `yaml:"enforcement,omitempty"`
	RequiresFields []string `yaml:"requires_fields,omitempty"`
}

type FieldSpec struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind,omitempty"`
	Values []string `yaml:"values,omitempty"`

	// States in which the field must be present and non-empty.
	RequiredIn []string `yaml:"required_in,omitempty"`
}

// Template is the immutable workflow definition for one issue type.
// Instances are built once at load time and never mutated afterwards.
type Template struct {
	Type         string       `yaml:"-"`
	InitialState string       `yaml:"initial_state"`
	States       []State      `yaml:"states"`
	Transitions  []Transition `yaml:"transitions"`
	Fields       []FieldSpec  `yaml:"fields,omitempty"`

	// Non-fatal findings from the quality pass (dead-end non-done states).
	Warnings []string `yaml:"-"`
}

// Pack is one parsed workflow definition source: a named map from issue
// type to template.
type Pack struct {
	Name  string               `yaml:"name,omitempty"`
	Types map[string]*Template `yaml:"types"`
}

// ParsePack parses and validates a YAML workflow pack. Validation errors
// are fatal; quality findings land on Template.Warnings.
func ParsePack(name string, data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("pack %s: invalid yaml: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	for typ, tpl := range p.Types {
		if tpl == nil {
			return nil, fmt.Errorf("pack %s: type %s has no definition", name, typ)
		}
		tpl.Type = typ
		if err := tpl.validate(); err != nil {
			return nil, fmt.Errorf("pack %s: type %s: %w", name, typ, err)
		}
	}
	return &p, nil
}

func (t *Template) validate() error {
	if len(t.States) == 0 {
		return fmt.Errorf("no states declared")
	}
	if len(t.States) > maxStates {
		return fmt.Errorf("too many states (%d > %d)", len(t.States), maxStates)
	}
	if len(t.Transitions) > maxTransitions {
		return fmt.Errorf("too many transitions (%d > %d)", len(t.Transitions), maxTransitions)
	}
	if len(t.Fields) > maxFields {
		return fmt.Errorf("too many fields (%d > %d)", len(t.Fields), maxFields)
	}

	states := make(map[string]Category, len(t.States))
	for _, s := range t.States {
		if s.Name == "" {
			return fmt.Errorf("state with empty name")
		}
		if _, dup := states[s.Name]; dup {
			return fmt.Errorf("duplicate state %s", s.Name)
		}
		switch s.Category {
		case CategoryOpen, CategoryWip, CategoryDone:
		default:
			return fmt.Errorf("state %s: unknown category %q", s.Name, s.Category)
		}
		states[s.Name] = s.Category
	}

	if t.InitialState == "" {
		t.InitialState = t.States[0].Name
	}
	if _, ok := states[t.InitialState]; !ok {
		return fmt.Errorf("initial state %s not declared", t.InitialState)
	}

	fields := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if fields[f.Name] {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		fields[f.Name] = true
		for _, st := range f.RequiredIn {
			if _, ok := states[st]; !ok {
				return fmt.Errorf("field %s required in undeclared state %s", f.Name, st)
			}
		}
	}

	for i, tr := range t.Transitions {
		if _, ok := states[tr.From]; !ok {
			return fmt.Errorf("transition %s->%s references undeclared state %s", tr.From, tr.To, tr.From)
		}
		if _, ok := states[tr.To]; !ok {
			return fmt.Errorf("transition %s->%s references undeclared state %s", tr.From, tr.To, tr.To)
		}
		switch tr.Enforcement {
		case "":
			t.Transitions[i].Enforcement = EnforceSoft
		case EnforceHard, EnforceSoft:
		default:
			return fmt.Errorf("transition %s->%s: unknown enforcement %q", tr.From, tr.To, tr.Enforcement)
		}
		for _, req := range tr.RequiresFields {
			if !fields[req] {
				return fmt.Errorf("transition %s->%s requires undeclared field %s", tr.From, tr.To, req)
			}
		}
	}

	// BFS reachability from the initial state.
	next := make(map[string][]string)
	for _, tr := range t.Transitions {
		next[tr.From] = append(next[tr.From], tr.To)
	}
	reached := map[string]bool{t.InitialState: true}
	queue := []string{t.InitialState}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range next[cur] {
			if !reached[to] {
				reached[to] = true
				queue = append(queue, to)
			}
		}
	}
	for _, s := range t.States {
		if !reached[s.Name] {
			return fmt.Errorf("state %s unreachable from initial state %s", s.Name, t.InitialState)
		}
	}

	// Quality pass: a non-done state with no way out is suspicious but legal.
	for _, s := range t.States {
		if s.Category != CategoryDone && len(next[s.Name]) == 0 {
			t.Warnings = append(t.Warnings, fmt.Sprintf("state %s has no outgoing transitions", s.Name))
		}
	}
	return nil
}

// HasField reports whether the field name is declared in the schema.
func (t *Template) HasField(name string) bool {
	for _, f := range t.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Field returns the declared spec for a field name.
func (t *Template) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}
