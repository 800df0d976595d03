package domain

type Issue struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Type        string            `json:"issue_type"`
	Status      string            `json:"status"`
	Priority    int               `json:"priority"`
	ParentID    *string           `json:"parent_id,omitempty"`
	Assignee    string            `json:"assignee,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	CloseReason string            `json:"close_reason,omitempty"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	UpdatedAt   string            `json:"updated_at" format:"date-time"`
	ClosedAt    *string           `json:"closed_at,omitempty" format:"date-time"`

	// Derived at read time, never stored.
	Category  string   `json:"category,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`
	Blocks    []string `json:"blocks,omitempty"`
	Children  []string `json:"children,omitempty"`
	Ready     bool     `json:"ready,omitempty"`
}

type Dependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// DepBlocks is the default dependency type; only blocks edges affect
// readiness and cycle checks.
const DepBlocks = "blocks"

// StatusArchived is the terminal archival marker. Archived rows persist
// for audit continuity and become eligible for event compaction.
const StatusArchived = "archived"

type Event struct {
	ID        int64   `json:"id"`
	IssueID   string  `json:"issue_id"`
	EventType string  `json:"event_type"`
	Actor     string  `json:"actor"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        int64  `json:"id"`
	IssueID   string `json:"issue_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Label struct {
	IssueID string `json:"issue_id"`
	Label   string `json:"label"`
}

// BlockedIssue annotates an issue with its unresolved blockers.
type BlockedIssue struct {
	Issue
	BlockedBy []string `json:"blocked_by"`
}

type Stats struct {
	TotalIssues   int `json:"total_issues"`
	OpenIssues    int `json:"open_issues"`
	WipIssues     int `json:"wip_issues"`
	DoneIssues    int `json:"done_issues"`
	ReadyIssues   int `json:"ready_issues"`
	BlockedIssues int `json:"blocked_issues"`
}

// UndoResult reports the outcome of an undo attempt. A failed undo is an
// expected outcome, not an error.
type UndoResult struct {
	Undone bool   `json:"undone"`
	Reason string `json:"reason,omitempty"`
	Event  *Event `json:"event,omitempty"`
}

type BatchFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BatchResult partitions a batch into succeeded IDs and per-id failures;
// one item's failure never aborts the rest.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed,omitempty"`
}

// ExportRecord is one line of the JSONL bulk transfer format, tagged with
// a record-kind discriminator.
type ExportRecord struct {
	Kind       string      `json:"kind"`
	Issue      *Issue      `json:"issue,omitempty"`
	Dependency *Dependency `json:"dependency,omitempty"`
	Label      *Label      `json:"label,omitempty"`
	Comment    *Comment    `json:"comment,omitempty"`
	Event      *Event      `json:"event,omitempty"`
}

const (
	RecordIssue      = "issue"
	RecordDependency = "dependency"
	RecordLabel      = "label"
	RecordComment    = "comment"
	RecordEvent      = "event"
)

// Event types recorded in the audit log.
const (
	EventCreated            = "created"
	EventStatusChanged      = "status_changed"
	EventTitleChanged       = "title_changed"
	EventPriorityChanged    = "priority_changed"
	EventAssigneeChanged    = "assignee_changed"
	EventDescriptionChanged = "description_changed"
	EventNotesChanged       = "notes_changed"
	EventFieldsChanged      = "fields_changed"
	EventParentChanged      = "parent_changed"
	EventClosed             = "closed"
	EventReopened           = "reopened"
	EventDependencyAdded    = "dependency_added"
	EventDependencyRemoved  = "dependency_removed"
	EventLabelAdded         = "label_added"
	EventLabelRemoved       = "label_removed"
	EventCommented          = "commented"
	EventClaimed            = "claimed"
	EventReleased           = "released"
	EventUndone             = "undone"
	EventArchived           = "archived"
	EventCompacted          = "compacted"
)
