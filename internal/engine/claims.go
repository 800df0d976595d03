package engine

import (
	"context"

	"taskline/internal/domain"
	"taskline/internal/repo"
	"taskline/internal/template"
)

// Claim assigns an unclaimed open-category issue to assignee with a
// single compare-and-set write. Claiming an issue you already hold is a
// no-op success; losing the race, or claiming an issue someone else
// holds, is a conflict. Claim never changes status: callers transition
// separately.
func (e Engine) Claim(ctx context.Context, id, assignee string) (domain.Issue, error) {
	if assignee == "" {
		return domain.Issue{}, domain.Validationf("assignee", "must not be empty")
	}
	issue, err := e.Repo.GetIssue(ctx, id)
	if err == repo.ErrNotFound {
		return domain.Issue{}, domain.NotFound("issue", id)
	}
	if err != nil {
		return domain.Issue{}, domain.Storef("get issue", err)
	}
	if issue.Assignee == assignee {
		return e.Get(ctx, id)
	}
	if issue.Assignee != "" {
		return domain.Issue{}, domain.Conflictf("issue %s is already claimed by %s", id, issue.Assignee)
	}
	if e.Registry.Category(issue.Type, issue.Status) != template.CategoryOpen {
		return domain.Issue{}, domain.Conflictf("issue %s is not in an open state", id)
	}

	ts := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	// The guard repeats the precondition so a concurrent claim that
	// committed between the read and this write affects zero rows.
	res, err := tx.ExecContext(ctx, `UPDATE issues SET assignee=?, updated_at=?
WHERE id=? AND (assignee IS NULL OR assignee='') AND status=?`,
		assignee, ts, id, issue.Status)
	if err != nil {
		return domain.Issue{}, domain.Storef("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Issue{}, domain.Storef("claim", err)
	}
	if n == 0 {
		return domain.Issue{}, domain.Conflictf("issue %s was claimed concurrently", id)
	}

	if err := e.Events.Append(ctx, tx, id, domain.EventClaimed, assignee, nil, &assignee); err != nil {
		return domain.Issue{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, domain.Storef("commit", err)
	}
	return e.Get(ctx, id)
}

// ClaimNext walks the ready queue in priority order and claims the first
// unassigned issue matching the filter that it wins. ok is false when no
// candidate matches or every match was taken concurrently. Limit and
// assignee filters do not apply: candidates are unassigned by definition.
func (e Engine) ClaimNext(ctx context.Context, assignee string, f repo.IssueFilter) (domain.Issue, bool, error) {
	ready, err := e.Graph.Ready(ctx)
	if err != nil {
		return domain.Issue{}, false, err
	}
	for _, candidate := range ready {
		if candidate.Assignee != "" {
			continue
		}
		match, err := e.matchesFilter(ctx, candidate, f)
		if err != nil {
			return domain.Issue{}, false, err
		}
		if !match {
			continue
		}
		issue, err := e.Claim(ctx, candidate.ID, assignee)
		if err == nil {
			return issue, true, nil
		}
		if domain.IsConflict(err) {
			continue
		}
		return domain.Issue{}, false, err
	}
	return domain.Issue{}, false, nil
}

func (e Engine) matchesFilter(ctx context.Context, i domain.Issue, f repo.IssueFilter) (bool, error) {
	if f.Type != "" && i.Type != f.Type {
		return false, nil
	}
	if f.Status != "" && i.Status != f.Status {
		return false, nil
	}
	if f.Priority != nil && i.Priority != *f.Priority {
		return false, nil
	}
	if f.Parent != "" && (i.ParentID == nil || *i.ParentID != f.Parent) {
		return false, nil
	}
	if f.Label != "" {
		labels, err := e.Repo.ListLabels(ctx, i.ID)
		if err != nil {
			return false, domain.Storef("list labels", err)
		}
		found := false
		for _, l := range labels {
			if l == f.Label {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// Release clears the claim held by actor. Releasing an unclaimed issue,
// or one held by someone else, is a conflict.
func (e Engine) Release(ctx context.Context, id, actor string) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	issue, err := e.Repo.GetIssueTx(ctx, tx, id)
	if err == repo.ErrNotFound {
		return domain.Issue{}, domain.NotFound("issue", id)
	}
	if err != nil {
		return domain.Issue{}, domain.Storef("get issue", err)
	}
	if issue.Assignee == "" {
		return domain.Issue{}, domain.Conflictf("issue %s is not claimed", id)
	}
	if issue.Assignee != actor {
		return domain.Issue{}, domain.Conflictf("issue %s is claimed by %s", id, issue.Assignee)
	}

	holder := issue.Assignee
	issue.Assignee = ""
	issue.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, domain.Storef("update issue", err)
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventReleased, actor, &holder, nil); err != nil {
		return domain.Issue{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, domain.Storef("commit", err)
	}
	return e.Get(ctx, id)
}
