package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records one audit event inside the caller's transaction. A row
// identical in (issue, type, actor, values, timestamp) to an existing one
// is silently dropped by the dedup index.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, issueID, eventType, actor string, oldValue, newValue *string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO events(issue_id,event_type,actor,old_value,new_value,created_at) VALUES (?,?,?,?,?,?)`,
		issueID, eventType, actor, oldValue, newValue, ts)
	if err != nil {
		return fmt.Errorf("append event %s for %s: %w", eventType, issueID, err)
	}
	return nil
}

const eventColumns = `id,issue_id,event_type,actor,old_value,new_value,created_at`

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var e domain.Event
	var oldValue, newValue sql.NullString
	if err := rows.Scan(&e.ID, &e.IssueID, &e.EventType, &e.Actor, &oldValue, &newValue, &e.CreatedAt); err != nil {
		return e, err
	}
	if oldValue.Valid {
		e.OldValue = &oldValue.String
	}
	if newValue.Valid {
		e.NewValue = &newValue.String
	}
	return e, nil
}

func (w Writer) query(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := w.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// IssueEvents returns an issue's audit trail, oldest first.
func (w Writer) IssueEvents(ctx context.Context, issueID string, limit int) ([]domain.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE issue_id=? ORDER BY id ASC`
	args := []any{issueID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return w.query(ctx, q, args...)
}

// EventsSince returns all events recorded at or after the given RFC3339
// timestamp, oldest first.
func (w Writer) EventsSince(ctx context.Context, since string) ([]domain.Event, error) {
	return w.query(ctx, `SELECT `+eventColumns+` FROM events WHERE created_at>=? ORDER BY id ASC`, since)
}

// AllEvents returns the full log in insertion order.
func (w Writer) AllEvents(ctx context.Context) ([]domain.Event, error) {
	return w.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id ASC`)
}

// Last returns the most recent event for an issue whose type is in the
// given set, skipping events a later undo already reverted. ErrNoEvent
// means nothing qualifies.
func (w Writer) Last(ctx context.Context, tx *sql.Tx, issueID string, types []string) (domain.Event, error) {
	if len(types) == 0 {
		return domain.Event{}, ErrNoEvent
	}
	placeholders := ""
	args := []any{issueID}
	for i, t := range types {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, t)
	}
	args = append(args, issueID, domain.EventUndone)
	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE issue_id=? AND event_type IN (`+placeholders+`)
AND id NOT IN (SELECT CAST(new_value AS INTEGER) FROM events WHERE issue_id=? AND event_type=? AND new_value IS NOT NULL)
ORDER BY id DESC LIMIT 1`, args...)
	var e domain.Event
	var oldValue, newValue sql.NullString
	err := row.Scan(&e.ID, &e.IssueID, &e.EventType, &e.Actor, &oldValue, &newValue, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNoEvent
	}
	if err != nil {
		return e, err
	}
	if oldValue.Valid {
		e.OldValue = &oldValue.String
	}
	if newValue.Valid {
		e.NewValue = &newValue.String
	}
	return e, nil
}

var ErrNoEvent = sql.ErrNoRows

// CompactIssue deletes all but the newest keep events for an issue and
// returns how many rows were removed. The created event is always kept.
func (w Writer) CompactIssue(ctx context.Context, tx *sql.Tx, issueID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE issue_id=? AND event_type<>? AND id NOT IN (
SELECT id FROM events WHERE issue_id=? ORDER BY id DESC LIMIT ?)`,
		issueID, domain.EventCreated, issueID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
