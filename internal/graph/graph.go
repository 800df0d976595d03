package graph

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/repo"
	"taskline/internal/template"
)

// Engine answers reachability questions over the blocks-type dependency
// edges and owns edge mutation. Readiness and blocking are defined in
// category terms, so every computation goes through the registry rather
// than raw status strings.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Registry *template.Registry
	Events   events.Writer
	Now      func() time.Time
}

func (g Engine) now() string {
	if g.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return g.Now().UTC().Format(time.RFC3339)
}

// AddDependency records that issueID is blocked by dependsOnID. The edge
// is rejected if it would close a cycle; re-adding an existing edge is a
// no-op and writes no event.
func (g Engine) AddDependency(ctx context.Context, issueID, dependsOnID, actor string) error {
	if issueID == dependsOnID {
		return domain.Validationf("depends_on_id", "issue cannot depend on itself")
	}
	for _, id := range []string{issueID, dependsOnID} {
		ok, err := g.Repo.IssueExists(ctx, id)
		if err != nil {
			return domain.Storef("check issue", err)
		}
		if !ok {
			return domain.NotFound("issue", id)
		}
	}

	cyclic, err := g.wouldCycle(ctx, issueID, dependsOnID)
	if err != nil {
		return domain.Storef("cycle check", err)
	}
	if cyclic {
		return domain.Conflictf("dependency %s -> %s would create a cycle", issueID, dependsOnID)
	}

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storef("begin", err)
	}
	defer tx.Rollback()

	added, err := g.Repo.AddDependency(ctx, tx, domain.Dependency{
		IssueID:     issueID,
		DependsOnID: dependsOnID,
		Type:        domain.DepBlocks,
		CreatedAt:   g.now(),
		CreatedBy:   actor,
	})
	if err != nil {
		return domain.Storef("add dependency", err)
	}
	if !added {
		return nil
	}
	if err := g.Events.Append(ctx, tx, issueID, domain.EventDependencyAdded, actor, nil, &dependsOnID); err != nil {
		return domain.Storef("add dependency", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Storef("commit", err)
	}
	return nil
}

// RemoveDependency deletes the edge if present and reports whether it
// existed. Removing a missing edge is not an error.
func (g Engine) RemoveDependency(ctx context.Context, issueID, dependsOnID, actor string) (bool, error) {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	removed, err := g.Repo.RemoveDependency(ctx, tx, issueID, dependsOnID)
	if err != nil {
		return false, domain.Storef("remove dependency", err)
	}
	if !removed {
		return false, nil
	}
	if err := g.Events.Append(ctx, tx, issueID, domain.EventDependencyRemoved, actor, &dependsOnID, nil); err != nil {
		return false, domain.Storef("remove dependency", err)
	}
	if err := tx.Commit(); err != nil {
		return false, domain.Storef("commit", err)
	}
	return true, nil
}

// wouldCycle reports whether dependsOnID can already reach issueID along
// depends-on edges, which adding the new edge would close into a loop.
func (g Engine) wouldCycle(ctx context.Context, issueID, dependsOnID string) (bool, error) {
	edges, err := g.Repo.BlocksEdges(ctx)
	if err != nil {
		return false, err
	}
	seen := map[string]bool{dependsOnID: true}
	queue := []string{dependsOnID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == issueID {
			return true, nil
		}
		for _, next := range edges[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false, nil
}

// snapshot is one consistent read of every issue and blocks edge.
type snapshot struct {
	issues map[string]domain.Issue
	edges  map[string][]string
}

func (g Engine) load(ctx context.Context) (snapshot, error) {
	all, err := g.Repo.AllIssues(ctx)
	if err != nil {
		return snapshot{}, domain.Storef("load issues", err)
	}
	edges, err := g.Repo.BlocksEdges(ctx)
	if err != nil {
		return snapshot{}, domain.Storef("load edges", err)
	}
	s := snapshot{issues: make(map[string]domain.Issue, len(all)), edges: edges}
	for _, i := range all {
		s.issues[i.ID] = i
	}
	return s, nil
}

func (g Engine) category(i domain.Issue) template.Category {
	return g.Registry.Category(i.Type, i.Status)
}

// openBlockers returns the blockers of id that are not yet done.
func (s snapshot) openBlockers(id string, cat func(domain.Issue) template.Category) []string {
	var open []string
	for _, dep := range s.edges[id] {
		blocker, ok := s.issues[dep]
		if !ok {
			continue
		}
		if cat(blocker) != template.CategoryDone {
			open = append(open, dep)
		}
	}
	sort.Strings(open)
	return open
}

// Ready returns open-category issues with no unresolved blockers, ordered
// by priority, then age, then id.
func (g Engine) Ready(ctx context.Context) ([]domain.Issue, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	var ready []domain.Issue
	for _, i := range s.issues {
		if g.category(i) != template.CategoryOpen {
			continue
		}
		if len(s.openBlockers(i.ID, g.category)) > 0 {
			continue
		}
		i.Ready = true
		ready = append(ready, i)
	}
	sortIssues(ready)
	return ready, nil
}

// Blocked returns open-category issues that have at least one unresolved
// blocker, each annotated with the blockers holding it up.
func (g Engine) Blocked(ctx context.Context) ([]domain.BlockedIssue, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	var blocked []domain.BlockedIssue
	for _, i := range s.issues {
		if g.category(i) != template.CategoryOpen {
			continue
		}
		open := s.openBlockers(i.ID, g.category)
		if len(open) == 0 {
			continue
		}
		blocked = append(blocked, domain.BlockedIssue{Issue: i, BlockedBy: open})
	}
	sort.Slice(blocked, func(a, b int) bool {
		return lessIssue(blocked[a].Issue, blocked[b].Issue)
	})
	return blocked, nil
}

// CriticalPath returns the longest dependency chain among non-done
// issues, ordered blocker first. Ties break toward the lexically smaller
// id so repeated calls agree. An edgeless graph has no critical path.
func (g Engine) CriticalPath(ctx context.Context) ([]domain.Issue, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}

	// Restrict to non-done nodes and the edges among them.
	active := map[string]bool{}
	for id, i := range s.issues {
		if g.category(i) != template.CategoryDone {
			active[id] = true
		}
	}
	deps := map[string][]string{}
	indegree := map[string]int{}
	hasEdge := false
	for id := range active {
		indegree[id] = 0
	}
	for from, tos := range s.edges {
		if !active[from] {
			continue
		}
		for _, to := range tos {
			if !active[to] {
				continue
			}
			deps[from] = append(deps[from], to)
			indegree[from]++
			hasEdge = true
		}
	}
	if !hasEdge {
		return nil, nil
	}

	// Kahn order over depends-on edges: blockers come out first.
	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	dependents := map[string][]string{}
	for from, tos := range deps {
		for _, to := range tos {
			dependents[to] = append(dependents[to], from)
		}
	}

	depth := map[string]int{}
	prev := map[string]string{}
	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		if depth[cur] == 0 {
			depth[cur] = 1
		}
		next := dependents[cur]
		sort.Strings(next)
		for _, n := range next {
			if depth[cur]+1 > depth[n] || (depth[cur]+1 == depth[n] && cur < prev[n]) {
				depth[n] = depth[cur] + 1
				prev[n] = cur
			}
			indegree[n]--
			if indegree[n] == 0 {
				queue = append(queue, n)
			}
		}
		sort.Strings(queue)
	}

	end := ""
	for _, id := range order {
		if end == "" || depth[id] > depth[end] || (depth[id] == depth[end] && id < end) {
			end = id
		}
	}
	if end == "" || depth[end] < 2 {
		return nil, nil
	}

	var ids []string
	for cur := end; cur != ""; cur = prev[cur] {
		ids = append(ids, cur)
	}
	// Reverse so blockers lead.
	path := make([]domain.Issue, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		path = append(path, s.issues[ids[i]])
	}
	return path, nil
}

func lessIssue(a, b domain.Issue) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

func sortIssues(issues []domain.Issue) {
	sort.Slice(issues, func(a, b int) bool { return lessIssue(issues[a], issues[b]) })
}
