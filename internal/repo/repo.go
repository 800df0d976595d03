package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const issueColumns = `id,title,description,notes,issue_type,status,priority,parent_id,assignee,fields_json,close_reason,created_at,updated_at,closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (domain.Issue, error) {
	var i domain.Issue
	var parentID, assignee, fieldsJSON, closeReason, closedAt sql.NullString
	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.Notes, &i.Type, &i.Status, &i.Priority,
		&parentID, &assignee, &fieldsJSON, &closeReason, &i.CreatedAt, &i.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if parentID.Valid {
		i.ParentID = &parentID.String
	}
	if assignee.Valid {
		i.Assignee = assignee.String
	}
	if closeReason.Valid {
		i.CloseReason = closeReason.String
	}
	if closedAt.Valid {
		i.ClosedAt = &closedAt.String
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &i.Fields); err != nil {
			return i, fmt.Errorf("issue %s: fields_json: %w", i.ID, err)
		}
	}
	return i, nil
}

func marshalFields(fields map[string]string) (any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	fieldsJSON, err := marshalFields(i.Fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO issues(`+issueColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Title, i.Description, i.Notes, i.Type, i.Status, i.Priority,
		nullableStringPtr(i.ParentID), nullable(i.Assignee), fieldsJSON, nullable(i.CloseReason),
		i.CreatedAt, i.UpdatedAt, nullableStringPtr(i.ClosedAt))
	return err
}

func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	fieldsJSON, err := marshalFields(i.Fields)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE issues SET title=?, description=?, notes=?, issue_type=?, status=?, priority=?, parent_id=?, assignee=?, fields_json=?, close_reason=?, updated_at=?, closed_at=? WHERE id=?`,
		i.Title, i.Description, i.Notes, i.Type, i.Status, i.Priority,
		nullableStringPtr(i.ParentID), nullable(i.Assignee), fieldsJSON, nullable(i.CloseReason),
		i.UpdatedAt, nullableStringPtr(i.ClosedAt), i.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return scanIssue(r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id string) (domain.Issue, error) {
	return scanIssue(tx.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=?`, id))
}

func (r Repo) IssueExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM issues WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type IssueFilter struct {
	Status   string
	Type     string
	Assignee string
	Priority *int
	Label    string
	Parent   string
	Limit    int
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilter) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "issue_type=?")
		args = append(args, f.Type)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	if f.Priority != nil {
		clauses = append(clauses, "priority=?")
		args = append(args, *f.Priority)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.Label != "" {
		clauses = append(clauses, "id IN (SELECT issue_id FROM labels WHERE label=?)")
		args = append(args, f.Label)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + issueColumns + ` FROM issues ` + where + ` ORDER BY priority ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryIssues(ctx, query, args...)
}

func (r Repo) queryIssues(ctx context.Context, query string, args ...any) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// AllIssues returns every issue row, ordered by id for stable export.
func (r Repo) AllIssues(ctx context.Context) ([]domain.Issue, error) {
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY id ASC`)
}

// --- dependencies ---

func (r Repo) AddDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dependencies(issue_id,depends_on_id,type,created_at,created_by) VALUES (?,?,?,?,?)`,
		d.IssueID, d.DependsOnID, d.Type, d.CreatedAt, d.CreatedBy)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) RemoveDependency(ctx context.Context, tx *sql.Tx, issueID, dependsOnID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id=? AND depends_on_id=?`, issueID, dependsOnID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListBlockers returns the IDs this issue depends on (its blockers).
func (r Repo) ListBlockers(ctx context.Context, issueID string) ([]string, error) {
	return r.listDepColumn(ctx, `SELECT depends_on_id FROM dependencies WHERE issue_id=? AND type=? ORDER BY depends_on_id`, issueID)
}

// ListDependents returns the IDs of issues blocked by this one.
func (r Repo) ListDependents(ctx context.Context, issueID string) ([]string, error) {
	return r.listDepColumn(ctx, `SELECT issue_id FROM dependencies WHERE depends_on_id=? AND type=? ORDER BY issue_id`, issueID)
}

func (r Repo) listDepColumn(ctx context.Context, query, issueID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, issueID, domain.DepBlocks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllDependencies returns every edge, ordered for stable export.
func (r Repo) AllDependencies(ctx context.Context) ([]domain.Dependency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id,depends_on_id,type,created_at,created_by FROM dependencies ORDER BY issue_id, depends_on_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		var createdBy sql.NullString
		if err := rows.Scan(&d.IssueID, &d.DependsOnID, &d.Type, &d.CreatedAt, &createdBy); err != nil {
			return nil, err
		}
		if createdBy.Valid {
			d.CreatedBy = createdBy.String
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// BlocksEdges returns all blocks-type edges as (blocked, blocker) pairs.
func (r Repo) BlocksEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id, depends_on_id FROM dependencies WHERE type=?`, domain.DepBlocks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

func (r Repo) ListChildren(ctx context.Context, issueID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM issues WHERE parent_id=? ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- labels ---

func (r Repo) AddLabel(ctx context.Context, tx *sql.Tx, issueID, label string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO labels(issue_id,label) VALUES (?,?)`, issueID, label)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) RemoveLabel(ctx context.Context, tx *sql.Tx, issueID, label string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE issue_id=? AND label=?`, issueID, label)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) ListLabels(ctx context.Context, issueID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT label FROM labels WHERE issue_id=? ORDER BY label`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (r Repo) AllLabels(ctx context.Context) ([]domain.Label, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id,label FROM labels ORDER BY issue_id,label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Label
	for rows.Next() {
		var l domain.Label
		if err := rows.Scan(&l.IssueID, &l.Label); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// --- comments ---

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO comments(issue_id,author,text,created_at) VALUES (?,?,?,?)`,
		c.IssueID, c.Author, c.Text, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListComments(ctx context.Context, issueID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,author,text,created_at FROM comments WHERE issue_id=? ORDER BY id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) AllComments(ctx context.Context) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,author,text,created_at FROM comments ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- search ---

// EnsureSearchIndex creates the FTS5 side table and its sync triggers.
// Best effort: on builds without FTS5 the error is returned and callers
// fall back to substring search.
func (r Repo) EnsureSearchIndex(ctx context.Context) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS issues_fts USING fts5(id UNINDEXED, title, description)`,
		`CREATE TRIGGER IF NOT EXISTS issues_fts_ai AFTER INSERT ON issues BEGIN
			INSERT INTO issues_fts(id,title,description) VALUES (new.id,new.title,new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS issues_fts_au AFTER UPDATE OF title,description ON issues BEGIN
			DELETE FROM issues_fts WHERE id=old.id;
			INSERT INTO issues_fts(id,title,description) VALUES (new.id,new.title,new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS issues_fts_ad AFTER DELETE ON issues BEGIN
			DELETE FROM issues_fts WHERE id=old.id;
		END`,
		`INSERT INTO issues_fts(id,title,description)
			SELECT id,title,description FROM issues WHERE id NOT IN (SELECT id FROM issues_fts)`,
	}
	for _, s := range stmts {
		if _, err := r.DB.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Search matches query against titles and descriptions via FTS5, falling
// back to a LIKE substring scan when the index is unavailable or the
// query does not parse as an FTS expression.
func (r Repo) Search(ctx context.Context, query string, limit int) ([]domain.Issue, error) {
	if limit <= 0 {
		limit = 50
	}
	issues, err := r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE id IN (
SELECT id FROM issues_fts WHERE issues_fts MATCH ?) ORDER BY priority ASC, created_at ASC, id ASC LIMIT ?`,
		query, limit)
	if err == nil {
		return issues, nil
	}
	like := "%" + query + "%"
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE title LIKE ? OR description LIKE ? ORDER BY priority ASC, created_at ASC, id ASC LIMIT ?`,
		like, like, limit)
}

// --- config ---

func (r Repo) GetConfig(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM config WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO config(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
