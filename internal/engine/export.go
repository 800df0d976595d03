package engine

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"taskline/internal/domain"
	"taskline/internal/repo"
)

// ImportResult counts what an import actually wrote.
type ImportResult struct {
	Issues       int `json:"issues"`
	Dependencies int `json:"dependencies"`
	Labels       int `json:"labels"`
	Comments     int `json:"comments"`
	Events       int `json:"events"`
	Skipped      int `json:"skipped"`
}

// ExportAll streams the whole store as JSONL, one tagged record per line,
// issues first so an import can satisfy foreign keys in one pass.
func (e Engine) ExportAll(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)

	issues, err := e.Repo.AllIssues(ctx)
	if err != nil {
		return domain.Storef("export issues", err)
	}
	for i := range issues {
		if err := enc.Encode(domain.ExportRecord{Kind: domain.RecordIssue, Issue: &issues[i]}); err != nil {
			return err
		}
	}

	deps, err := e.Repo.AllDependencies(ctx)
	if err != nil {
		return domain.Storef("export dependencies", err)
	}
	for i := range deps {
		if err := enc.Encode(domain.ExportRecord{Kind: domain.RecordDependency, Dependency: &deps[i]}); err != nil {
			return err
		}
	}

	labels, err := e.Repo.AllLabels(ctx)
	if err != nil {
		return domain.Storef("export labels", err)
	}
	for i := range labels {
		if err := enc.Encode(domain.ExportRecord{Kind: domain.RecordLabel, Label: &labels[i]}); err != nil {
			return err
		}
	}

	comments, err := e.Repo.AllComments(ctx)
	if err != nil {
		return domain.Storef("export comments", err)
	}
	for i := range comments {
		if err := enc.Encode(domain.ExportRecord{Kind: domain.RecordComment, Comment: &comments[i]}); err != nil {
			return err
		}
	}

	evs, err := e.Events.AllEvents(ctx)
	if err != nil {
		return domain.Storef("export events", err)
	}
	for i := range evs {
		if err := enc.Encode(domain.ExportRecord{Kind: domain.RecordEvent, Event: &evs[i]}); err != nil {
			return err
		}
	}
	return nil
}

// ImportAll reads JSONL records and upserts them in one transaction.
// Issues replace existing rows with the same id; edges, labels and events
// dedup against what is already there.
func (e Engine) ImportAll(ctx context.Context, r io.Reader) (ImportResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	var res ImportResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec domain.ExportRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return ImportResult{}, domain.Validationf("import", "line %d: %v", line, err)
		}
		switch rec.Kind {
		case domain.RecordIssue:
			if rec.Issue == nil || rec.Issue.ID == "" || rec.Issue.Title == "" {
				return ImportResult{}, domain.Validationf("import", "line %d: incomplete issue record", line)
			}
			if err := e.importIssue(ctx, tx, *rec.Issue); err != nil {
				return ImportResult{}, domain.Storef(fmt.Sprintf("import issue line %d", line), err)
			}
			res.Issues++
		case domain.RecordDependency:
			if rec.Dependency == nil {
				return ImportResult{}, domain.Validationf("import", "line %d: incomplete dependency record", line)
			}
			d := *rec.Dependency
			if d.Type == "" {
				d.Type = domain.DepBlocks
			}
			added, err := e.Repo.AddDependency(ctx, tx, d)
			if err != nil {
				return ImportResult{}, domain.Storef(fmt.Sprintf("import dependency line %d", line), err)
			}
			if added {
				res.Dependencies++
			} else {
				res.Skipped++
			}
		case domain.RecordLabel:
			if rec.Label == nil {
				return ImportResult{}, domain.Validationf("import", "line %d: incomplete label record", line)
			}
			added, err := e.Repo.AddLabel(ctx, tx, rec.Label.IssueID, rec.Label.Label)
			if err != nil {
				return ImportResult{}, domain.Storef(fmt.Sprintf("import label line %d", line), err)
			}
			if added {
				res.Labels++
			} else {
				res.Skipped++
			}
		case domain.RecordComment:
			if rec.Comment == nil {
				return ImportResult{}, domain.Validationf("import", "line %d: incomplete comment record", line)
			}
			if _, err := e.Repo.InsertComment(ctx, tx, *rec.Comment); err != nil {
				return ImportResult{}, domain.Storef(fmt.Sprintf("import comment line %d", line), err)
			}
			res.Comments++
		case domain.RecordEvent:
			if rec.Event == nil {
				return ImportResult{}, domain.Validationf("import", "line %d: incomplete event record", line)
			}
			ev := rec.Event
			r, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO events(issue_id,event_type,actor,old_value,new_value,created_at) VALUES (?,?,?,?,?,?)`,
				ev.IssueID, ev.EventType, ev.Actor, ev.OldValue, ev.NewValue, ev.CreatedAt)
			if err != nil {
				return ImportResult{}, domain.Storef(fmt.Sprintf("import event line %d", line), err)
			}
			if n, _ := r.RowsAffected(); n > 0 {
				res.Events++
			} else {
				res.Skipped++
			}
		default:
			return ImportResult{}, domain.Validationf("import", "line %d: unknown record kind %q", line, rec.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return ImportResult{}, domain.Storef("read import", err)
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, domain.Storef("commit", err)
	}
	return res, nil
}

func (e Engine) importIssue(ctx context.Context, tx *sql.Tx, issue domain.Issue) error {
	_, err := e.Repo.GetIssueTx(ctx, tx, issue.ID)
	if err == repo.ErrNotFound {
		return e.Repo.InsertIssue(ctx, tx, issue)
	}
	if err != nil {
		return err
	}
	return e.Repo.UpdateIssue(ctx, tx, issue)
}
