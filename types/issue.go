package types

import (
	"strings"
	"time"
)

// IssueStatus is the canonical lifecycle state of an issue.
//
// The wire format accepts a handful of legacy spellings ("pending", "open",
// "in progress", "resolved") which are normalized at the boundary by
// ParseIssueStatus; everything past the handlers speaks only the canonical set.
type IssueStatus string

const (
	StatusCreated    IssueStatus = "created"
	StatusAssigned   IssueStatus = "assigned"
	StatusInProgress IssueStatus = "in_progress"
	StatusEscalated  IssueStatus = "escalated"
	StatusCompleted  IssueStatus = "completed"
	StatusRejected   IssueStatus = "rejected"
	StatusClosed     IssueStatus = "closed"
)

// Terminal reports whether the status admits no further transitions.
func (s IssueStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusClosed:
		return true
	}
	return false
}

// StatusOrder is the fixed total order used for status-based sorting,
// most attention-worthy first. It is the single source of truth shared by the
// SQL ORDER BY expression and any in-memory sort so the two can never diverge.
var StatusOrder = []IssueStatus{
	StatusEscalated,
	StatusCreated,
	StatusAssigned,
	StatusInProgress,
	StatusCompleted,
	StatusRejected,
	StatusClosed,
}

// StatusRank maps each status to its position in StatusOrder.
var StatusRank = rankOf(StatusOrder)

// ParseIssueStatus normalizes a raw status string to a canonical IssueStatus.
func ParseIssueStatus(raw string) (IssueStatus, bool) {
	switch normalizeToken(raw) {
	case "created", "pending", "open":
		return StatusCreated, true
	case "assigned":
		return StatusAssigned, true
	case "in_progress", "inprogress":
		return StatusInProgress, true
	case "escalated":
		return StatusEscalated, true
	case "completed", "resolved":
		return StatusCompleted, true
	case "rejected":
		return StatusRejected, true
	case "closed":
		return StatusClosed, true
	default:
		return "", false
	}
}

// IssuePriority is the urgency tier of an issue.
type IssuePriority string

const (
	PriorityLow    IssuePriority = "low"
	PriorityMedium IssuePriority = "medium"
	PriorityHigh   IssuePriority = "high"
	PriorityUrgent IssuePriority = "urgent"
)

// PriorityOrder is the fixed total order used for priority-based sorting,
// most urgent first. Shared between SQL and in-memory sorts.
var PriorityOrder = []IssuePriority{
	PriorityUrgent,
	PriorityHigh,
	PriorityMedium,
	PriorityLow,
}

// PriorityRank maps each priority to its position in PriorityOrder.
var PriorityRank = rankOf(PriorityOrder)

func rankOf[T comparable](order []T) map[T]int {
	ranks := make(map[T]int, len(order))
	for i, v := range order {
		ranks[v] = i
	}
	return ranks
}

// ParseIssuePriority normalizes a raw priority string.
func ParseIssuePriority(raw string) (IssuePriority, bool) {
	switch normalizeToken(raw) {
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "urgent", "critical":
		return PriorityUrgent, true
	default:
		return "", false
	}
}

// EscalationReason is a structured reason code a citizen supplies when
// escalating an issue before the minimum-age threshold.
type EscalationReason string

const (
	ReasonNoResponse  EscalationReason = "no_response"
	ReasonNoProgress  EscalationReason = "no_progress"
	ReasonUrgent      EscalationReason = "urgent"
	ReasonNotAssigned EscalationReason = "not_assigned"
	ReasonOther       EscalationReason = "other"
)

// ParseEscalationReason validates a raw escalation reason code.
func ParseEscalationReason(raw string) (EscalationReason, bool) {
	switch normalizeToken(raw) {
	case "no_response":
		return ReasonNoResponse, true
	case "no_progress":
		return ReasonNoProgress, true
	case "urgent":
		return ReasonUrgent, true
	case "not_assigned":
		return ReasonNotAssigned, true
	case "other":
		return ReasonOther, true
	default:
		return "", false
	}
}

// Category is reference data describing a class of civic issue. Categories are
// seeded by migration and rarely change. Department links a category to the
// officials responsible for it.
type Category struct {
	ID          int    `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Department  string `json:"department" db:"department"`
	Active      bool   `json:"active" db:"active"`
}

// Issue represents a civic complaint reported by a citizen.
type Issue struct {
	// ID is the unique identifier of the issue.
	ID int64 `json:"id" db:"id"`

	// CitizenID is the owning citizen's profile id. It is immutable after
	// creation; ownership never transfers.
	CitizenID int `json:"citizen_id" db:"citizen_id"`

	// Title is a short summary of the complaint.
	Title string `json:"title" db:"title"`

	// Description is the full complaint text.
	Description string `json:"description" db:"description"`

	// CategoryID references the issue's category.
	CategoryID int `json:"category_id" db:"category_id"`

	// CategoryName is denormalized for list/detail responses.
	CategoryName string `json:"category_name,omitempty" db:"category_name"`

	// Priority is the current urgency tier. Escalation forces it to urgent.
	Priority IssuePriority `json:"priority" db:"priority"`

	// Status is the current lifecycle state. It is a projection of the
	// latest issue update's new_status and must always match it.
	Status IssueStatus `json:"status" db:"status"`

	// AssignedTo is the user id of the handling official, nil while the
	// issue is unassigned.
	AssignedTo *int `json:"assigned_to,omitempty" db:"assigned_to"`

	// Remarks holds the latest free-text note attached to a transition.
	Remarks string `json:"remarks,omitempty" db:"remarks"`

	// ResolutionNote is set when the issue completes or is rejected.
	ResolutionNote string `json:"resolution_note,omitempty" db:"resolution_note"`

	// ResolvedAt is the time the issue entered a resolved state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// CreatedAt is the time the issue was reported.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// ModifiedAt is the time of the most recent mutation.
	ModifiedAt time.Time `json:"modified_at" db:"modified_at"`

	// ModifiedBy is the user id of the last actor to mutate the issue.
	ModifiedBy int `json:"modified_by" db:"modified_by"`
}

// Age returns how long the issue has existed as of now.
func (i Issue) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

func normalizeToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.ReplaceAll(token, " ", "_")
	token = strings.ReplaceAll(token, "-", "_")
	return token
}
