package template_test

import (
	"strings"
	"testing"

	"taskline/internal/template"
)

func mustRegistry(t *testing.T, sources ...template.Source) *template.Registry {
	t.Helper()
	r := template.NewRegistry()
	if err := r.Load(sources, nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r
}

func TestParsePackRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate state",
			yaml: `types:
  task:
    states:
      - {name: open, category: open}
      - {name: open, category: open}`,
			want: "duplicate state",
		},
		{
			name: "unknown category",
			yaml: `types:
  task:
    states:
      - {name: open, category: pending}`,
			want: "unknown category",
		},
		{
			name: "undeclared transition target",
			yaml: `types:
  task:
    states:
      - {name: open, category: open}
    transitions:
      - {from: open, to: gone}`,
			want: "undeclared state",
		},
		{
			name: "undeclared required field",
			yaml: `types:
  task:
    states:
      - {name: open, category: open}
      - {name: closed, category: done}
    transitions:
      - {from: open, to: closed, enforcement: hard, requires_fields: [resolution]}`,
			want: "undeclared field",
		},
		{
			name: "required in undeclared state",
			yaml: `types:
  task:
    states:
      - {name: open, category: open}
    fields:
      - {name: outcome, required_in: [finished]}`,
			want: "required in undeclared state",
		},
		{
			name: "unreachable state",
			yaml: `types:
  task:
    initial_state: open
    states:
      - {name: open, category: open}
      - {name: island, category: wip}
    transitions: []`,
			want: "unreachable",
		},
		{
			name: "bad enforcement",
			yaml: `types:
  task:
    states:
      - {name: open, category: open}
      - {name: closed, category: done}
    transitions:
      - {from: open, to: closed, enforcement: strict}`,
			want: "unknown enforcement",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := template.ParsePack("test", []byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestInitialStateDefaultsToFirstDeclared(t *testing.T) {
	p, err := template.ParsePack("test", []byte(`types:
  task:
    states:
      - {name: backlog, category: open}
      - {name: done, category: done}
    transitions:
      - {from: backlog, to: done}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := p.Types["task"].InitialState; got != "backlog" {
		t.Fatalf("initial state = %q, want backlog", got)
	}
}

func TestLaterSourcesWinPerType(t *testing.T) {
	base := template.BuiltinSource()
	override := template.Source{Name: "override", Data: []byte(`name: override
types:
  task:
    initial_state: triage
    states:
      - {name: triage, category: open}
      - {name: done, category: done}
    transitions:
      - {from: triage, to: done}`)}
	r := mustRegistry(t, base, override)

	if got := r.InitialState("task"); got != "triage" {
		t.Fatalf("task initial state = %q, want triage", got)
	}
	// Other builtin types are untouched.
	if got := r.InitialState("bug"); got != "open" {
		t.Fatalf("bug initial state = %q, want open", got)
	}
}

func TestValidateTransitionEnforcement(t *testing.T) {
	r := mustRegistry(t, template.BuiltinSource())

	// Hard gate without the field.
	res := r.ValidateTransition("bug", "in_progress", "closed", nil)
	if res.Allowed {
		t.Fatalf("expected hard enforcement to reject, got %+v", res)
	}
	if len(res.Missing) != 1 || res.Missing[0] != "resolution" {
		t.Fatalf("missing = %v, want [resolution]", res.Missing)
	}

	// Same gate with the field present.
	res = r.ValidateTransition("bug", "in_progress", "closed", map[string]string{"resolution": "fixed"})
	if !res.Allowed {
		t.Fatalf("expected transition to pass: %+v", res)
	}

	// Soft gate allows with warnings.
	res = r.ValidateTransition("feature", "review", "closed", nil)
	if !res.Allowed {
		t.Fatalf("soft enforcement must allow: %+v", res)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("soft enforcement should warn about missing fields")
	}

	// Undeclared transition.
	res = r.ValidateTransition("bug", "open", "closed", nil)
	if res.Allowed {
		t.Fatalf("undeclared transition must be rejected")
	}

	// Self transition is always fine.
	res = r.ValidateTransition("bug", "open", "open", nil)
	if !res.Allowed {
		t.Fatalf("self transition must be allowed")
	}
}

func TestUnknownTypesArePermissive(t *testing.T) {
	r := mustRegistry(t, template.BuiltinSource())

	res := r.ValidateTransition("incident", "anything", "whatever", nil)
	if !res.Allowed {
		t.Fatalf("unknown type must allow any transition")
	}
	if !r.ValidState("incident", "whatever") {
		t.Fatalf("unknown type must accept any state")
	}
	if got := r.InitialState("incident"); got != template.DefaultInitialState {
		t.Fatalf("initial state = %q, want %q", got, template.DefaultInitialState)
	}
}

func TestCategoryFallback(t *testing.T) {
	r := mustRegistry(t, template.BuiltinSource())

	if got := r.Category("bug", "in_progress"); got != template.CategoryWip {
		t.Fatalf("bug in_progress = %v, want wip", got)
	}
	// Unregistered type falls back to conventional names.
	if got := r.Category("incident", "closed"); got != template.CategoryDone {
		t.Fatalf("incident closed = %v, want done", got)
	}
	if got := r.Category("incident", "mystery"); got != template.CategoryOpen {
		t.Fatalf("unknown state = %v, want open", got)
	}
}

func TestValidateFields(t *testing.T) {
	r := mustRegistry(t, template.BuiltinSource())

	if err := r.ValidateFields("bug", map[string]string{"severity": "high"}); err != nil {
		t.Fatalf("valid enum value rejected: %v", err)
	}
	if err := r.ValidateFields("bug", map[string]string{"severity": "catastrophic"}); err == nil {
		t.Fatalf("enum violation accepted")
	}
	if err := r.ValidateFields("bug", map[string]string{"made_up": "x"}); err == nil {
		t.Fatalf("unknown field accepted")
	}
	// Unregistered types carry arbitrary bags.
	if err := r.ValidateFields("incident", map[string]string{"whatever": "x"}); err != nil {
		t.Fatalf("unknown type fields rejected: %v", err)
	}
}

func TestRequiredFieldsByState(t *testing.T) {
	r := mustRegistry(t, template.BuiltinSource())

	req := r.RequiredFields("bug", "closed")
	if len(req) != 1 || req[0] != "resolution" {
		t.Fatalf("bug closed requires %v, want [resolution]", req)
	}
	if req := r.RequiredFields("bug", "open"); len(req) != 0 {
		t.Fatalf("bug open requires %v, want nothing", req)
	}
	if req := r.RequiredFields("incident", "closed"); len(req) != 0 {
		t.Fatalf("unknown type requires %v, want nothing", req)
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	r := mustRegistry(t, template.BuiltinSource())
	before := r.Types()
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	after := r.Types()
	if len(before) != len(after) {
		t.Fatalf("types changed across reload: %v -> %v", before, after)
	}
}
