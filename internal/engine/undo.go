package engine

import (
	"context"
	"fmt"
	"strconv"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/repo"
	"taskline/internal/template"
)

// reversible lists the event types whose inverse is a single field write.
// Structural events (dependencies, labels, comments, creation) are not
// undoable through this path.
var reversible = map[string]bool{
	domain.EventStatusChanged:      true,
	domain.EventTitleChanged:       true,
	domain.EventPriorityChanged:    true,
	domain.EventAssigneeChanged:    true,
	domain.EventDescriptionChanged: true,
	domain.EventNotesChanged:       true,
	domain.EventClosed:             true,
	domain.EventReopened:           true,
	domain.EventClaimed:            true,
	domain.EventReleased:           true,
}

// UndoLast restores the state recorded in the issue's most recent
// reversible event. The restore is a literal write of the old value and
// deliberately skips transition validation: undo must always be able to
// walk back. A refusal (nothing to undo, malformed event) is reported in
// the result, not as an error.
func (e Engine) UndoLast(ctx context.Context, id, actor string) (domain.UndoResult, error) {
	ok, err := e.Repo.IssueExists(ctx, id)
	if err != nil {
		return domain.UndoResult{}, domain.Storef("check issue", err)
	}
	if !ok {
		return domain.UndoResult{}, domain.NotFound("issue", id)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UndoResult{}, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	types := make([]string, 0, len(reversible))
	for t := range reversible {
		types = append(types, t)
	}
	ev, err := e.Events.Last(ctx, tx, id, types)
	if err == events.ErrNoEvent {
		return domain.UndoResult{Reason: "no reversible event"}, nil
	}
	if err != nil {
		return domain.UndoResult{}, domain.Storef("find event", err)
	}

	old := ""
	if ev.OldValue != nil {
		old = *ev.OldValue
	}
	ts := e.timestamp()

	switch ev.EventType {
	case domain.EventStatusChanged, domain.EventReopened:
		if old == "" {
			return domain.UndoResult{Reason: "event has no previous status", Event: &ev}, nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE issues SET status=?, updated_at=? WHERE id=?`, old, ts, id)
	case domain.EventClosed:
		if old == "" {
			return domain.UndoResult{Reason: "event has no previous status", Event: &ev}, nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE issues SET status=?, close_reason=NULL, closed_at=NULL, updated_at=? WHERE id=?`, old, ts, id)
	case domain.EventTitleChanged:
		if old == "" {
			return domain.UndoResult{Reason: "event has no previous title", Event: &ev}, nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE issues SET title=?, updated_at=? WHERE id=?`, old, ts, id)
	case domain.EventDescriptionChanged:
		_, err = tx.ExecContext(ctx, `UPDATE issues SET description=?, updated_at=? WHERE id=?`, old, ts, id)
	case domain.EventNotesChanged:
		_, err = tx.ExecContext(ctx, `UPDATE issues SET notes=?, updated_at=? WHERE id=?`, old, ts, id)
	case domain.EventPriorityChanged:
		p, convErr := strconv.Atoi(old)
		if convErr != nil || p < minPriority || p > maxPriority {
			return domain.UndoResult{Reason: fmt.Sprintf("event has malformed priority %q", old), Event: &ev}, nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE issues SET priority=?, updated_at=? WHERE id=?`, p, ts, id)
	case domain.EventAssigneeChanged, domain.EventClaimed, domain.EventReleased:
		var v any
		if old != "" {
			v = old
		}
		_, err = tx.ExecContext(ctx, `UPDATE issues SET assignee=?, updated_at=? WHERE id=?`, v, ts, id)
	default:
		return domain.UndoResult{Reason: fmt.Sprintf("event type %s is not reversible", ev.EventType), Event: &ev}, nil
	}
	if err != nil {
		return domain.UndoResult{}, domain.Storef("apply undo", err)
	}

	undoneType := ev.EventType
	eventID := strconv.FormatInt(ev.ID, 10)
	if err := e.Events.Append(ctx, tx, id, domain.EventUndone, actor, &undoneType, &eventID); err != nil {
		return domain.UndoResult{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.UndoResult{}, domain.Storef("commit", err)
	}
	return domain.UndoResult{Undone: true, Event: &ev}, nil
}

// ArchiveClosed moves issues closed at or before the cutoff into the
// archived state and returns their ids. Issues already archived are left
// alone.
func (e Engine) ArchiveClosed(ctx context.Context, cutoff, actor string) ([]string, error) {
	all, err := e.Repo.AllIssues(ctx)
	if err != nil {
		return nil, domain.Storef("list issues", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	ts := e.timestamp()
	var archived []string
	for _, issue := range all {
		if issue.Status == domain.StatusArchived {
			continue
		}
		if e.Registry.Category(issue.Type, issue.Status) != template.CategoryDone {
			continue
		}
		if issue.ClosedAt == nil || *issue.ClosedAt > cutoff {
			continue
		}
		old := issue.Status
		issue.Status = domain.StatusArchived
		issue.UpdatedAt = ts
		if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
			return nil, domain.Storef("archive issue", err)
		}
		target := issue.Status
		if err := e.Events.Append(ctx, tx, issue.ID, domain.EventArchived, actor, &old, &target); err != nil {
			return nil, domain.Storef("append event", err)
		}
		archived = append(archived, issue.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.Storef("commit", err)
	}
	return archived, nil
}

// CompactEvents trims an archived issue's log to its newest keep entries
// plus the created event and returns how many rows were dropped. Live
// histories are never touched; the compaction itself is recorded so the
// trim leaves a trace.
func (e Engine) CompactEvents(ctx context.Context, id string, keep int, actor string) (int64, error) {
	if keep < 1 {
		return 0, domain.Validationf("keep", "must be at least 1")
	}
	issue, err := e.Repo.GetIssue(ctx, id)
	if err == repo.ErrNotFound {
		return 0, domain.NotFound("issue", id)
	}
	if err != nil {
		return 0, domain.Storef("get issue", err)
	}
	if issue.Status != domain.StatusArchived {
		return 0, domain.Conflictf("issue %s is not archived, refusing to compact its log", id)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	removed, err := e.Events.CompactIssue(ctx, tx, id, keep)
	if err != nil {
		return 0, domain.Storef("compact events", err)
	}
	if removed > 0 {
		count := strconv.FormatInt(removed, 10)
		if err := e.Events.Append(ctx, tx, id, domain.EventCompacted, actor, nil, &count); err != nil {
			return 0, domain.Storef("append event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.Storef("commit", err)
	}
	return removed, nil
}
