package repo_test

import (
	"context"
	"testing"
	"time"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedIssue(t *testing.T, r repo.Repo, i domain.Issue) {
	t.Helper()
	if i.Type == "" {
		i.Type = "task"
	}
	if i.Status == "" {
		i.Status = "open"
	}
	if i.CreatedAt == "" {
		ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
		i.CreatedAt, i.UpdatedAt = ts, ts
	}
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertIssue(context.Background(), tx, i); err != nil {
		t.Fatalf("insert %s: %v", i.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestIssueRoundTripPreservesFields(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	parent := "tk-parent"
	seedIssue(t, r, domain.Issue{ID: parent, Title: "parent", Priority: 1})
	seedIssue(t, r, domain.Issue{
		ID: "tk-1", Title: "full row", Description: "desc", Notes: "note",
		Type: "bug", Status: "in_progress", Priority: 0,
		ParentID: &parent, Assignee: "agent-1",
		Fields: map[string]string{"severity": "high"},
	})

	got, err := r.GetIssue(ctx, "tk-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != parent {
		t.Fatalf("parent = %v", got.ParentID)
	}
	if got.Fields["severity"] != "high" {
		t.Fatalf("fields = %v", got.Fields)
	}
	if got.Assignee != "agent-1" || got.Notes != "note" {
		t.Fatalf("row mangled: %+v", got)
	}

	if _, err := r.GetIssue(ctx, "tk-missing"); err != repo.ErrNotFound {
		t.Fatalf("missing: got %v", err)
	}
}

func TestListIssuesFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedIssue(t, r, domain.Issue{ID: "tk-1", Title: "a", Type: "bug", Status: "open", Priority: 0, Assignee: "agent-1"})
	seedIssue(t, r, domain.Issue{ID: "tk-2", Title: "b", Type: "task", Status: "open", Priority: 2})
	seedIssue(t, r, domain.Issue{ID: "tk-3", Title: "c", Type: "bug", Status: "closed", Priority: 2})

	tx, _ := r.DB.Begin()
	if _, err := r.AddLabel(ctx, tx, "tk-2", "infra"); err != nil {
		t.Fatalf("label: %v", err)
	}
	tx.Commit()

	cases := []struct {
		name   string
		filter repo.IssueFilter
		want   []string
	}{
		{"by type", repo.IssueFilter{Type: "bug"}, []string{"tk-1", "tk-3"}},
		{"by status", repo.IssueFilter{Status: "open"}, []string{"tk-1", "tk-2"}},
		{"by assignee", repo.IssueFilter{Assignee: "agent-1"}, []string{"tk-1"}},
		{"by label", repo.IssueFilter{Label: "infra"}, []string{"tk-2"}},
		{"combined", repo.IssueFilter{Type: "bug", Status: "open"}, []string{"tk-1"}},
		{"limit", repo.IssueFilter{Limit: 1}, []string{"tk-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.ListIssues(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d rows, want %d", len(got), len(tc.want))
			}
			for i, id := range tc.want {
				if got[i].ID != id {
					t.Fatalf("row %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestSearchFallsBackWithoutIndex(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedIssue(t, r, domain.Issue{ID: "tk-1", Title: "rewrite the tokenizer"})
	seedIssue(t, r, domain.Issue{ID: "tk-2", Title: "other", Description: "tokenizer docs"})
	seedIssue(t, r, domain.Issue{ID: "tk-3", Title: "noise"})

	// No EnsureSearchIndex call: the FTS query fails and the LIKE
	// fallback answers.
	got, err := r.Search(ctx, "tokenizer", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d hits, want 2", len(got))
	}
}

func TestSearchUsesIndexWhenPresent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if err := r.EnsureSearchIndex(ctx); err != nil {
		t.Skipf("fts5 unavailable: %v", err)
	}
	seedIssue(t, r, domain.Issue{ID: "tk-1", Title: "rewrite the tokenizer"})
	seedIssue(t, r, domain.Issue{ID: "tk-2", Title: "noise"})

	got, err := r.Search(ctx, "tokenizer", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "tk-1" {
		t.Fatalf("hits = %v", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	if _, err := r.GetConfig(ctx, "issue_prefix"); err != repo.ErrNotFound {
		t.Fatalf("unset key: got %v", err)
	}
	if err := r.SetConfig(ctx, "issue_prefix", "web"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := r.SetConfig(ctx, "issue_prefix", "api"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := r.GetConfig(ctx, "issue_prefix")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "api" {
		t.Fatalf("value = %q, want api", v)
	}
}

func TestDependencyCascadeOnDelete(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedIssue(t, r, domain.Issue{ID: "tk-1", Title: "a"})
	seedIssue(t, r, domain.Issue{ID: "tk-2", Title: "b"})

	tx, _ := r.DB.Begin()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if _, err := r.AddDependency(ctx, tx, domain.Dependency{
		IssueID: "tk-2", DependsOnID: "tk-1", Type: domain.DepBlocks, CreatedAt: ts,
	}); err != nil {
		t.Fatalf("dep: %v", err)
	}
	tx.Commit()

	if _, err := r.DB.Exec(`DELETE FROM issues WHERE id='tk-1'`); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deps, err := r.AllDependencies(ctx)
	if err != nil {
		t.Fatalf("list deps: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("dangling edges: %v", deps)
	}
}
