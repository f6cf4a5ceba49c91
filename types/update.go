package types

import "time"

// UpdateType classifies an audit log entry.
type UpdateType string

const (
	UpdateStatusChange UpdateType = "status_change"
	UpdateAssignment   UpdateType = "assignment"
	UpdateEscalation   UpdateType = "escalation"
	UpdateComment      UpdateType = "comment"
)

// IssueUpdate is one entry in an issue's append-only audit trail. Every status
// change, assignment, and escalation writes exactly one entry in the same
// transaction as the issue row mutation; entries are immutable once written.
type IssueUpdate struct {
	// ID is the unique identifier of the entry.
	ID int64 `json:"id" db:"id"`

	// IssueID references the issue this entry belongs to.
	IssueID int64 `json:"issue_id" db:"issue_id"`

	// AuthorUserID is the user who performed the recorded action.
	AuthorUserID int `json:"author_user_id" db:"author_user_id"`

	// AuthorName is denormalized for display.
	AuthorName string `json:"author_name,omitempty" db:"author_name"`

	// AuthorRole is denormalized for display.
	AuthorRole Role `json:"author_role,omitempty" db:"author_role"`

	// OldStatus is the issue status before the action.
	OldStatus IssueStatus `json:"old_status" db:"old_status"`

	// NewStatus is the status after the action; nil for pure comments,
	// which do not move the state machine.
	NewStatus *IssueStatus `json:"new_status,omitempty" db:"new_status"`

	// Comment is the note supplied with the action.
	Comment string `json:"comment" db:"comment"`

	// UpdateType classifies the entry.
	UpdateType UpdateType `json:"update_type" db:"update_type"`

	// CreatedAt orders the audit trail.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
