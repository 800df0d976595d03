package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/graph"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/template"
)

const (
	maxTitleLen   = 500
	minPriority   = 0
	maxPriority   = 4
	defaultType   = "task"
	defaultPrefix = "tk"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Registry *template.Registry
	Events   events.Writer
	Graph    graph.Engine
	Now      func() time.Time
}

// New wires an engine over an opened store. It refuses stores whose
// schema version marker differs from what this build understands; the
// search index is created best effort.
func New(db *sql.DB, registry *template.Registry) (Engine, error) {
	v, err := migrate.Version(db)
	if err != nil {
		return Engine{}, domain.Storef("read schema version", err)
	}
	if v != migrate.Current {
		return Engine{}, domain.Validationf("schema", "store has schema version %d, this build requires %d", v, migrate.Current)
	}
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Registry: registry,
		Events:   events.Writer{DB: db},
	}
	e.Graph = graph.Engine{DB: db, Repo: e.Repo, Registry: registry}
	e = e.WithClock(time.Now)
	// Without FTS5 search degrades to substring scans.
	_ = e.Repo.EnsureSearchIndex(context.Background())
	return e, nil
}

// WithClock rebinds every component to a single time source. Tests use
// it to inject a deterministic clock.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Graph.Now = now
	e.Graph.Events = e.Events
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

type CreateOptions struct {
	ID          string
	Title       string
	Description string
	Notes       string
	Type        string
	Status      string
	Priority    *int
	ParentID    string
	Assignee    string
	Fields      map[string]string
	Labels      []string
	DependsOn   []string
	Actor       string
}

func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Issue, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Issue{}, domain.Validationf("title", "must not be empty")
	}
	if len(title) > maxTitleLen {
		return domain.Issue{}, domain.Validationf("title", "exceeds %d characters", maxTitleLen)
	}
	typ := opts.Type
	if typ == "" {
		typ = defaultType
	}
	priority := 2
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	if priority < minPriority || priority > maxPriority {
		return domain.Issue{}, domain.Validationf("priority", "must be between %d and %d", minPriority, maxPriority)
	}
	if err := e.Registry.ValidateFields(typ, opts.Fields); err != nil {
		return domain.Issue{}, domain.Validationf("fields", "%v", err)
	}
	status := opts.Status
	if status == "" {
		status = e.Registry.InitialState(typ)
	} else if !e.Registry.ValidState(typ, status) {
		return domain.Issue{}, domain.Validationf("status", "%s is not a state of type %s", status, typ)
	}
	if opts.ParentID != "" {
		ok, err := e.Repo.IssueExists(ctx, opts.ParentID)
		if err != nil {
			return domain.Issue{}, domain.Storef("check parent", err)
		}
		if !ok {
			return domain.Issue{}, domain.NotFound("issue", opts.ParentID)
		}
	}
	for _, dep := range opts.DependsOn {
		ok, err := e.Repo.IssueExists(ctx, dep)
		if err != nil {
			return domain.Issue{}, domain.Storef("check dependency", err)
		}
		if !ok {
			return domain.Issue{}, domain.NotFound("issue", dep)
		}
	}
	for _, l := range opts.Labels {
		if strings.TrimSpace(l) == "" {
			return domain.Issue{}, domain.Validationf("labels", "empty label")
		}
		if _, registered := e.Registry.Get(l); registered {
			return domain.Issue{}, domain.Validationf("labels", "%s collides with a registered issue type", l)
		}
	}

	id := opts.ID
	if id != "" {
		exists, err := e.Repo.IssueExists(ctx, id)
		if err != nil {
			return domain.Issue{}, domain.Storef("check id", err)
		}
		if exists {
			return domain.Issue{}, domain.Conflictf("issue %s already exists", id)
		}
	} else {
		var err error
		id, err = e.newID(ctx)
		if err != nil {
			return domain.Issue{}, err
		}
	}

	ts := e.timestamp()
	issue := domain.Issue{
		ID:          id,
		Title:       title,
		Description: opts.Description,
		Notes:       opts.Notes,
		Type:        typ,
		Status:      status,
		Priority:    priority,
		Assignee:    opts.Assignee,
		Fields:      opts.Fields,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if opts.ParentID != "" {
		parent := opts.ParentID
		issue.ParentID = &parent
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	if err := e.Repo.InsertIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, domain.Storef("insert issue", err)
	}
	for _, l := range opts.Labels {
		if _, err := e.Repo.AddLabel(ctx, tx, id, l); err != nil {
			return domain.Issue{}, domain.Storef("add label", err)
		}
	}
	// A brand new node only gains outgoing edges, so no cycle is possible.
	for _, dep := range opts.DependsOn {
		if _, err := e.Repo.AddDependency(ctx, tx, domain.Dependency{
			IssueID: id, DependsOnID: dep, Type: domain.DepBlocks,
			CreatedAt: ts, CreatedBy: opts.Actor,
		}); err != nil {
			return domain.Issue{}, domain.Storef("add dependency", err)
		}
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventCreated, opts.Actor, nil, &title); err != nil {
		return domain.Issue{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, domain.Storef("commit", err)
	}
	return e.Get(ctx, id)
}

// newID derives a short unique id under the configured prefix.
func (e Engine) newID(ctx context.Context) (string, error) {
	prefix, err := e.Repo.GetConfig(ctx, "issue_prefix")
	if err == repo.ErrNotFound {
		prefix = defaultPrefix
	} else if err != nil {
		return "", domain.Storef("read config", err)
	}
	for length := 6; length <= 12; length += 2 {
		for attempt := 0; attempt < 5; attempt++ {
			suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:length]
			id := prefix + "-" + suffix
			exists, err := e.Repo.IssueExists(ctx, id)
			if err != nil {
				return "", domain.Storef("check id", err)
			}
			if !exists {
				return id, nil
			}
		}
	}
	return "", domain.Conflictf("could not allocate a unique issue id")
}

// Get returns an issue with its derived attributes populated.
func (e Engine) Get(ctx context.Context, id string) (domain.Issue, error) {
	issue, err := e.Repo.GetIssue(ctx, id)
	if err == repo.ErrNotFound {
		return domain.Issue{}, domain.NotFound("issue", id)
	}
	if err != nil {
		return domain.Issue{}, domain.Storef("get issue", err)
	}
	return e.derive(ctx, issue)
}

func (e Engine) derive(ctx context.Context, issue domain.Issue) (domain.Issue, error) {
	issue.Category = string(e.Registry.Category(issue.Type, issue.Status))
	var err error
	if issue.Labels, err = e.Repo.ListLabels(ctx, issue.ID); err != nil {
		return issue, domain.Storef("list labels", err)
	}
	if issue.BlockedBy, err = e.Repo.ListBlockers(ctx, issue.ID); err != nil {
		return issue, domain.Storef("list blockers", err)
	}
	if issue.Blocks, err = e.Repo.ListDependents(ctx, issue.ID); err != nil {
		return issue, domain.Storef("list dependents", err)
	}
	if issue.Children, err = e.Repo.ListChildren(ctx, issue.ID); err != nil {
		return issue, domain.Storef("list children", err)
	}
	if issue.Category == string(template.CategoryOpen) {
		open := 0
		for _, dep := range issue.BlockedBy {
			blocker, err := e.Repo.GetIssue(ctx, dep)
			if err != nil {
				continue
			}
			if e.Registry.Category(blocker.Type, blocker.Status) != template.CategoryDone {
				open++
			}
		}
		issue.Ready = open == 0
	}
	return issue, nil
}

type UpdateOptions struct {
	Title       *string
	Description *string
	Notes       *string
	Status      *string
	Priority    *int
	Assignee    *string
	ParentID    *string
	Fields      map[string]string
	Actor       string
}

// Update applies field changes in one transaction, writing one event per
// changed field. A hard-enforced transition with missing fields rejects
// the whole update.
func (e Engine) Update(ctx context.Context, id string, opts UpdateOptions) (domain.Issue, error) {
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

	type change struct {
		event    string
		old, new *string
	}
	var changes []change
	note := func(event, oldVal, newVal string) {
		o, n := oldVal, newVal
		changes = append(changes, change{event: event, old: &o, new: &n})
	}

	if opts.Title != nil && *opts.Title != issue.Title {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Issue{}, domain.Validationf("title", "must not be empty")
		}
		if len(title) > maxTitleLen {
			return domain.Issue{}, domain.Validationf("title", "exceeds %d characters", maxTitleLen)
		}
		note(domain.EventTitleChanged, issue.Title, title)
		issue.Title = title
	}
	if opts.Description != nil && *opts.Description != issue.Description {
		note(domain.EventDescriptionChanged, issue.Description, *opts.Description)
		issue.Description = *opts.Description
	}
	if opts.Notes != nil && *opts.Notes != issue.Notes {
		note(domain.EventNotesChanged, issue.Notes, *opts.Notes)
		issue.Notes = *opts.Notes
	}
	if opts.Priority != nil && *opts.Priority != issue.Priority {
		if *opts.Priority < minPriority || *opts.Priority > maxPriority {
			return domain.Issue{}, domain.Validationf("priority", "must be between %d and %d", minPriority, maxPriority)
		}
		note(domain.EventPriorityChanged, strconv.Itoa(issue.Priority), strconv.Itoa(*opts.Priority))
		issue.Priority = *opts.Priority
	}
	if opts.Assignee != nil && *opts.Assignee != issue.Assignee {
		note(domain.EventAssigneeChanged, issue.Assignee, *opts.Assignee)
		issue.Assignee = *opts.Assignee
	}
	if opts.ParentID != nil {
		newParent := *opts.ParentID
		oldParent := ""
		if issue.ParentID != nil {
			oldParent = *issue.ParentID
		}
		if newParent != oldParent {
			if newParent != "" {
				if err := e.checkParent(ctx, tx, id, newParent); err != nil {
					return domain.Issue{}, err
				}
				issue.ParentID = &newParent
			} else {
				issue.ParentID = nil
			}
			note(domain.EventParentChanged, oldParent, newParent)
		}
	}
	if opts.Fields != nil {
		merged := map[string]string{}
		for k, v := range issue.Fields {
			merged[k] = v
		}
		changed := false
		for k, v := range opts.Fields {
			if v == "" {
				if _, ok := merged[k]; ok {
					delete(merged, k)
					changed = true
				}
				continue
			}
			if merged[k] != v {
				merged[k] = v
				changed = true
			}
		}
		if changed {
			if err := e.Registry.ValidateFields(issue.Type, merged); err != nil {
				return domain.Issue{}, domain.Validationf("fields", "%v", err)
			}
			note(domain.EventFieldsChanged, encodeFields(issue.Fields), encodeFields(merged))
			issue.Fields = merged
		}
	}
	if opts.Status != nil && *opts.Status != issue.Status {
		to := *opts.Status
		if !e.Registry.ValidState(issue.Type, to) {
			return domain.Issue{}, domain.Validationf("status", "%s is not a state of type %s", to, issue.Type)
		}
		res := e.Registry.ValidateTransition(issue.Type, issue.Status, to, issue.Fields)
		if !res.Allowed {
			return domain.Issue{}, &domain.TransitionRejectedError{
				Type: issue.Type, From: issue.Status, To: to, Missing: res.Missing,
			}
		}
		note(domain.EventStatusChanged, issue.Status, to)
		issue.Status = to
		if e.Registry.Category(issue.Type, to) == template.CategoryDone {
			ts := e.timestamp()
			issue.ClosedAt = &ts
		} else {
			issue.ClosedAt = nil
			issue.CloseReason = ""
		}
	}

	if len(changes) == 0 {
		// Release the connection before the derived read.
		tx.Rollback()
		return e.Get(ctx, id)
	}
	issue.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, domain.Storef("update issue", err)
	}
	for _, c := range changes {
		if err := e.Events.Append(ctx, tx, id, c.event, opts.Actor, c.old, c.new); err != nil {
			return domain.Issue{}, domain.Storef("append event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, domain.Storef("commit", err)
	}
	return e.Get(ctx, id)
}

// checkParent rejects unknown parents and ancestry loops.
func (e Engine) checkParent(ctx context.Context, tx *sql.Tx, id, parentID string) error {
	seen := map[string]bool{id: true}
	cur := parentID
	for cur != "" {
		if seen[cur] {
			return domain.Conflictf("parent %s would create a hierarchy cycle", parentID)
		}
		seen[cur] = true
		p, err := e.Repo.GetIssueTx(ctx, tx, cur)
		if err == repo.ErrNotFound {
			if cur == parentID {
				return domain.NotFound("issue", parentID)
			}
			return nil
		}
		if err != nil {
			return domain.Storef("walk parents", err)
		}
		if p.ParentID == nil {
			return nil
		}
		cur = *p.ParentID
	}
	return nil
}

// Close forces an issue into its done-category state regardless of the
// declared transitions. Closing an already closed issue is a conflict.
func (e Engine) Close(ctx context.Context, id, reason, actor string) (domain.Issue, error) {
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
	if e.Registry.Category(issue.Type, issue.Status) == template.CategoryDone {
		return domain.Issue{}, domain.Conflictf("issue %s is already closed", id)
	}

	target := e.doneState(issue.Type)
	old := issue.Status
	ts := e.timestamp()
	issue.Status = target
	issue.CloseReason = reason
	issue.UpdatedAt = ts
	issue.ClosedAt = &ts
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, domain.Storef("update issue", err)
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventClosed, actor, &old, &target); err != nil {
		return domain.Issue{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, domain.Storef("commit", err)
	}
	return e.Get(ctx, id)
}

// doneState picks the canonical closed state for a type: a state named
// "closed" when declared, otherwise the first done-category state.
func (e Engine) doneState(typ string) string {
	tpl, ok := e.Registry.Get(typ)
	if !ok {
		return "closed"
	}
	for _, s := range tpl.States {
		if s.Name == "closed" && s.Category == template.CategoryDone {
			return s.Name
		}
	}
	for _, s := range tpl.States {
		if s.Category == template.CategoryDone {
			return s.Name
		}
	}
	return "closed"
}

// Reopen moves a done-category issue back to its initial state.
func (e Engine) Reopen(ctx context.Context, id, actor string) (domain.Issue, error) {
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
	if e.Registry.Category(issue.Type, issue.Status) != template.CategoryDone {
		return domain.Issue{}, domain.Conflictf("issue %s is not closed", id)
	}

	old := issue.Status
	target := e.Registry.InitialState(issue.Type)
	issue.Status = target
	issue.CloseReason = ""
	issue.ClosedAt = nil
	issue.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, domain.Storef("update issue", err)
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventReopened, actor, &old, &target); err != nil {
		return domain.Issue{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, domain.Storef("commit", err)
	}
	return e.Get(ctx, id)
}

// List returns issues matching the filter with categories resolved.
func (e Engine) List(ctx context.Context, f repo.IssueFilter) ([]domain.Issue, error) {
	issues, err := e.Repo.ListIssues(ctx, f)
	if err != nil {
		return nil, domain.Storef("list issues", err)
	}
	for i := range issues {
		issues[i].Category = string(e.Registry.Category(issues[i].Type, issues[i].Status))
	}
	return issues, nil
}

// Search runs full text search over titles and descriptions.
func (e Engine) Search(ctx context.Context, query string, limit int) ([]domain.Issue, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.Validationf("query", "must not be empty")
	}
	issues, err := e.Repo.Search(ctx, query, limit)
	if err != nil {
		return nil, domain.Storef("search", err)
	}
	for i := range issues {
		issues[i].Category = string(e.Registry.Category(issues[i].Type, issues[i].Status))
	}
	return issues, nil
}

// Stats summarizes the store by category and readiness.
func (e Engine) Stats(ctx context.Context) (domain.Stats, error) {
	all, err := e.Repo.AllIssues(ctx)
	if err != nil {
		return domain.Stats{}, domain.Storef("list issues", err)
	}
	var s domain.Stats
	s.TotalIssues = len(all)
	for _, i := range all {
		switch e.Registry.Category(i.Type, i.Status) {
		case template.CategoryOpen:
			s.OpenIssues++
		case template.CategoryWip:
			s.WipIssues++
		case template.CategoryDone:
			s.DoneIssues++
		}
	}
	ready, err := e.Graph.Ready(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	s.ReadyIssues = len(ready)
	blocked, err := e.Graph.Blocked(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	s.BlockedIssues = len(blocked)
	return s, nil
}

// Comment appends a freeform comment plus its audit event.
func (e Engine) Comment(ctx context.Context, id, author, text string) (domain.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Comment{}, domain.Validationf("text", "must not be empty")
	}
	ok, err := e.Repo.IssueExists(ctx, id)
	if err != nil {
		return domain.Comment{}, domain.Storef("check issue", err)
	}
	if !ok {
		return domain.Comment{}, domain.NotFound("issue", id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, domain.Storef("begin", err)
	}
	defer tx.Rollback()

	c := domain.Comment{IssueID: id, Author: author, Text: text, CreatedAt: e.timestamp()}
	c.ID, err = e.Repo.InsertComment(ctx, tx, c)
	if err != nil {
		return domain.Comment{}, domain.Storef("insert comment", err)
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventCommented, author, nil, &text); err != nil {
		return domain.Comment{}, domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, domain.Storef("commit", err)
	}
	return c, nil
}

// Comments returns an issue's comments, oldest first.
func (e Engine) Comments(ctx context.Context, id string) ([]domain.Comment, error) {
	ok, err := e.Repo.IssueExists(ctx, id)
	if err != nil {
		return nil, domain.Storef("check issue", err)
	}
	if !ok {
		return nil, domain.NotFound("issue", id)
	}
	comments, err := e.Repo.ListComments(ctx, id)
	if err != nil {
		return nil, domain.Storef("list comments", err)
	}
	return comments, nil
}

// AddLabel attaches a label, idempotently.
func (e Engine) AddLabel(ctx context.Context, id, label, actor string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return domain.Validationf("label", "must not be empty")
	}
	if _, registered := e.Registry.Get(label); registered {
		return domain.Validationf("label", "%s collides with a registered issue type", label)
	}
	ok, err := e.Repo.IssueExists(ctx, id)
	if err != nil {
		return domain.Storef("check issue", err)
	}
	if !ok {
		return domain.NotFound("issue", id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storef("begin", err)
	}
	defer tx.Rollback()

	added, err := e.Repo.AddLabel(ctx, tx, id, label)
	if err != nil {
		return domain.Storef("add label", err)
	}
	if !added {
		return nil
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventLabelAdded, actor, nil, &label); err != nil {
		return domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Storef("commit", err)
	}
	return nil
}

// RemoveLabel detaches a label, idempotently.
func (e Engine) RemoveLabel(ctx context.Context, id, label, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storef("begin", err)
	}
	defer tx.Rollback()

	removed, err := e.Repo.RemoveLabel(ctx, tx, id, label)
	if err != nil {
		return domain.Storef("remove label", err)
	}
	if !removed {
		return nil
	}
	if err := e.Events.Append(ctx, tx, id, domain.EventLabelRemoved, actor, &label, nil); err != nil {
		return domain.Storef("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Storef("commit", err)
	}
	return nil
}

// Log returns an issue's audit trail, oldest first.
func (e Engine) Log(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	ok, err := e.Repo.IssueExists(ctx, id)
	if err != nil {
		return nil, domain.Storef("check issue", err)
	}
	if !ok {
		return nil, domain.NotFound("issue", id)
	}
	evs, err := e.Events.IssueEvents(ctx, id, limit)
	if err != nil {
		return nil, domain.Storef("list events", err)
	}
	return evs, nil
}

// EventsSince returns every event recorded at or after the RFC3339
// timestamp, for session resumption across all issues.
func (e Engine) EventsSince(ctx context.Context, since string) ([]domain.Event, error) {
	if _, err := time.Parse(time.RFC3339, since); err != nil {
		return nil, domain.Validationf("since", "not an RFC3339 timestamp: %v", err)
	}
	evs, err := e.Events.EventsSince(ctx, since)
	if err != nil {
		return nil, domain.Storef("list events", err)
	}
	return evs, nil
}

// IssueValidation is the answer to a consistency check of one issue
// against its workflow template.
type IssueValidation struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateIssue checks a stored issue against the current registry:
// useful after template reloads, which can strand issues in states their
// type no longer declares.
func (e Engine) ValidateIssue(ctx context.Context, id string) (IssueValidation, error) {
	issue, err := e.Repo.GetIssue(ctx, id)
	if err == repo.ErrNotFound {
		return IssueValidation{}, domain.NotFound("issue", id)
	}
	if err != nil {
		return IssueValidation{}, domain.Storef("get issue", err)
	}
	v := IssueValidation{Valid: true}
	if !e.Registry.ValidState(issue.Type, issue.Status) {
		v.Valid = false
		v.Problems = append(v.Problems, fmt.Sprintf("status %s is not a state of type %s", issue.Status, issue.Type))
	}
	if err := e.Registry.ValidateFields(issue.Type, issue.Fields); err != nil {
		v.Valid = false
		v.Problems = append(v.Problems, err.Error())
	}
	for _, name := range e.Registry.RequiredFields(issue.Type, issue.Status) {
		if issue.Fields[name] == "" {
			v.Valid = false
			v.Problems = append(v.Problems, fmt.Sprintf("field %s is required in state %s", name, issue.Status))
		}
	}
	if tpl, ok := e.Registry.Get(issue.Type); ok {
		v.Warnings = append(v.Warnings, tpl.Warnings...)
	}
	return v, nil
}

// ValidTransitionsFor reports where an issue may move next. Nil means the
// type is unregistered and any state is accepted.
func (e Engine) ValidTransitionsFor(ctx context.Context, id string) ([]template.Transition, error) {
	issue, err := e.Repo.GetIssue(ctx, id)
	if err == repo.ErrNotFound {
		return nil, domain.NotFound("issue", id)
	}
	if err != nil {
		return nil, domain.Storef("get issue", err)
	}
	return e.Registry.ValidTransitions(issue.Type, issue.Status), nil
}

func encodeFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}
