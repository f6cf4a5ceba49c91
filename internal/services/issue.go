package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/civicdesk/apiserver/internal/mq"
	"github.com/civicdesk/apiserver/internal/storage"
	"github.com/civicdesk/apiserver/internal/store"
	"github.com/civicdesk/apiserver/types"
)

// escalationMinAge is the issue age past which a citizen may escalate without
// supplying a structured reason.
const escalationMinAge = 30 * 24 * time.Hour

const (
	minTitleLen       = 5
	maxTitleLen       = 200
	minDescriptionLen = 20
	maxDescriptionLen = 2000
)

// IssueRepository defines persistence operations for issues and their audit
// trail.
type IssueRepository interface {
	Create(ctx context.Context, issue types.Issue, attachments []types.Attachment) (types.Issue, error)
	Get(ctx context.Context, id int64) (types.Issue, error)
	List(ctx context.Context, filter store.IssueFilter) ([]types.Issue, int, error)
	CountByStatus(ctx context.Context, filter store.IssueFilter) (map[types.IssueStatus]int, error)
	ApplyTransition(ctx context.Context, record store.TransitionRecord, attachments []types.Attachment) (types.IssueUpdate, error)
	AddComment(ctx context.Context, update types.IssueUpdate, attachments []types.Attachment) (types.IssueUpdate, error)
	ListUpdates(ctx context.Context, issueID int64) ([]types.IssueUpdate, error)
}

// CategoryRepository defines read operations for issue categories.
type CategoryRepository interface {
	ListActive(ctx context.Context) ([]types.Category, error)
	Get(ctx context.Context, id int) (types.Category, error)
}

// AttachmentRepository defines read operations for attachment metadata.
type AttachmentRepository interface {
	Get(ctx context.Context, issueID, attachmentID int64) (types.Attachment, error)
	ListByIssue(ctx context.Context, issueID int64) ([]types.Attachment, error)
}

// IssueService is the issue lifecycle engine. It validates input, enforces
// the transition table and per-role authorization, and guarantees that every
// applied transition lands atomically with exactly one audit entry.
type IssueService struct {
	issues      IssueRepository
	categories  CategoryRepository
	users       UserRepository
	attachments AttachmentRepository
	storage     *storage.Storage
	events      *mq.MQ
	eventTopic  string
}

func NewIssueService(
	issues IssueRepository,
	categories CategoryRepository,
	users UserRepository,
	attachments AttachmentRepository,
	blobs *storage.Storage,
	events *mq.MQ,
	eventTopic string,
) *IssueService {
	return &IssueService{
		issues:      issues,
		categories:  categories,
		users:       users,
		attachments: attachments,
		storage:     blobs,
		events:      events,
		eventTopic:  eventTopic,
	}
}

// CreateIssueInput is the validated payload for reporting a new issue.
type CreateIssueInput struct {
	Title       string
	Description string
	CategoryID  int
	Priority    types.IssuePriority
	Uploads     []Upload
}

// Create reports a new issue owned by the acting citizen.
func (s *IssueService) Create(ctx context.Context, actor types.Actor, input CreateIssueInput) (types.Issue, error) {
	if actor.Role != types.RoleCitizen || actor.CitizenID == 0 {
		return types.Issue{}, forbiddenf("only citizens may report issues")
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if len(input.Title) < minTitleLen || len(input.Title) > maxTitleLen {
		return types.Issue{}, validationf("title", "must be between %d and %d characters", minTitleLen, maxTitleLen)
	}
	if len(input.Description) < minDescriptionLen || len(input.Description) > maxDescriptionLen {
		return types.Issue{}, validationf("description", "must be between %d and %d characters", minDescriptionLen, maxDescriptionLen)
	}
	if input.Priority == "" {
		input.Priority = types.PriorityMedium
	}

	category, err := s.categories.Get(ctx, input.CategoryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Issue{}, validationf("category_id", "unknown category")
		}
		return types.Issue{}, err
	}
	if !category.Active {
		return types.Issue{}, validationf("category_id", "category is inactive")
	}

	if err := ValidateUploads(input.Uploads); err != nil {
		return types.Issue{}, err
	}
	attachments, cleanup, err := s.storeUploads(ctx, input.Uploads)
	if err != nil {
		return types.Issue{}, err
	}

	issue := types.Issue{
		CitizenID:   actor.CitizenID,
		Title:       input.Title,
		Description: input.Description,
		CategoryID:  category.ID,
		Priority:    input.Priority,
		ModifiedBy:  actor.UserID,
	}
	created, err := s.issues.Create(ctx, issue, attachments)
	if err != nil {
		cleanup(ctx)
		return types.Issue{}, err
	}
	created.CategoryName = category.Name

	s.publish(ctx, issueEvent{
		Type:      "issue.created",
		IssueID:   created.ID,
		NewStatus: created.Status,
		ActorID:   actor.UserID,
		At:        created.CreatedAt,
	})
	return created, nil
}

// ListIssuesInput carries optional refinements within the actor's scope.
type ListIssuesInput struct {
	Status   *types.IssueStatus
	Category *int
	Priority *types.IssuePriority
	SortBy   string
	Page     int
	Limit    int
}

// List returns the page of issues visible to the actor together with the
// total count of the filtered scope.
func (s *IssueService) List(ctx context.Context, actor types.Actor, input ListIssuesInput) ([]types.Issue, int, error) {
	if input.Page < 1 {
		input.Page = 1
	}
	if input.Limit < 1 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}

	filter := store.IssueFilter{
		Status:     input.Status,
		CategoryID: input.Category,
		Priority:   input.Priority,
		SortBy:     input.SortBy,
		Offset:     (input.Page - 1) * input.Limit,
		Limit:      input.Limit,
	}
	if err := s.scopeFilter(ctx, actor, &filter); err != nil {
		return nil, 0, err
	}
	return s.issues.List(ctx, filter)
}

// Stats returns per-status issue counts within the actor's scope.
func (s *IssueService) Stats(ctx context.Context, actor types.Actor) (map[types.IssueStatus]int, error) {
	var filter store.IssueFilter
	if err := s.scopeFilter(ctx, actor, &filter); err != nil {
		return nil, err
	}
	// Scope only; status refinements don't apply to a breakdown.
	filter.EscalatedOnly = false
	filter.ExcludeEscalated = false
	return s.issues.CountByStatus(ctx, filter)
}

// scopeFilter narrows a filter to the rows the actor may see: citizens their
// own issues, officials their department minus escalated issues, higher
// officials the escalated issues of their department.
func (s *IssueService) scopeFilter(ctx context.Context, actor types.Actor, filter *store.IssueFilter) error {
	switch actor.Role {
	case types.RoleCitizen:
		if actor.CitizenID == 0 {
			return forbiddenf("citizen profile required")
		}
		citizenID := actor.CitizenID
		filter.CitizenID = &citizenID
	case types.RoleOfficial:
		official, err := s.users.GetOfficialByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return forbiddenf("official profile required")
			}
			return err
		}
		filter.Department = &official.Department
		filter.ExcludeEscalated = true
	case types.RoleHigherOfficial:
		official, err := s.users.GetOfficialByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return forbiddenf("official profile required")
			}
			return err
		}
		filter.Department = &official.Department
		filter.EscalatedOnly = true
	default:
		return forbiddenf("unknown role %q", actor.Role)
	}
	return nil
}

// IssueDetail is the full read model for one issue.
type IssueDetail struct {
	Issue       types.Issue        `json:"issue"`
	Attachments []types.Attachment `json:"attachments"`
	Updates     []types.IssueUpdate `json:"updates"`
	Timeline    Timeline           `json:"timeline"`
}

// Get returns the issue with its attachments, audit trail, and advisory
// timeline, enforcing read authorization.
func (s *IssueService) Get(ctx context.Context, actor types.Actor, id int64) (IssueDetail, error) {
	issue, err := s.getAuthorized(ctx, actor, id, false)
	if err != nil {
		return IssueDetail{}, err
	}

	attachments, err := s.attachments.ListByIssue(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}
	updates, err := s.issues.ListUpdates(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}

	return IssueDetail{
		Issue:       issue,
		Attachments: attachments,
		Updates:     updates,
		Timeline:    TimelineFor(issue.CategoryName),
	}, nil
}

// UpdateStatusInput is the payload for a status transition.
type UpdateStatusInput struct {
	Status  types.IssueStatus
	Comment string
	Uploads []Upload
}

// UpdateStatus moves an issue along one edge of the state machine.
func (s *IssueService) UpdateStatus(ctx context.Context, actor types.Actor, issueID int64, input UpdateStatusInput) (types.Issue, error) {
	issue, err := s.getAuthorized(ctx, actor, issueID, true)
	if err != nil {
		return types.Issue{}, err
	}

	// Assignment carries an assignee and its own preconditions; only
	// Assign may move an issue into assigned.
	if input.Status == types.StatusAssigned {
		return types.Issue{}, validationf("status", "assignment requires an assignee; use the assign operation")
	}

	if err := validateTransition(issue.Status, input.Status, actor.Role); err != nil {
		s.logDenied(issue, actor, input.Status, err)
		return types.Issue{}, err
	}

	input.Comment = strings.TrimSpace(input.Comment)
	if commentRequired(input.Status) && len(input.Comment) < minCommentLen {
		switch input.Status {
		case types.StatusCompleted:
			return types.Issue{}, validationf("comment", "a resolution note of at least %d characters is required", minCommentLen)
		case types.StatusRejected:
			return types.Issue{}, validationf("comment", "a rejection reason of at least %d characters is required", minCommentLen)
		default:
			return types.Issue{}, validationf("comment", "a comment of at least %d characters is required", minCommentLen)
		}
	}

	if err := ValidateUploads(input.Uploads); err != nil {
		return types.Issue{}, err
	}
	attachments, cleanup, err := s.storeUploads(ctx, input.Uploads)
	if err != nil {
		return types.Issue{}, err
	}

	record := store.TransitionRecord{
		IssueID:     issueID,
		FromStatus:  issue.Status,
		ToStatus:    input.Status,
		ActorUserID: actor.UserID,
		Comment:     input.Comment,
		UpdateType:  types.UpdateStatusChange,
	}
	if input.Status == types.StatusCompleted || input.Status == types.StatusRejected {
		now := time.Now()
		record.ResolutionNote = input.Comment
		record.ResolvedAt = &now
	}

	if _, err := s.applyRecorded(ctx, actor, record, attachments); err != nil {
		cleanup(ctx)
		return types.Issue{}, err
	}
	return s.issues.Get(ctx, issueID)
}

// Assign hands an issue to an official in the category's department.
func (s *IssueService) Assign(ctx context.Context, actor types.Actor, issueID int64, assigneeID int, comment string) (types.Issue, error) {
	issue, err := s.getAuthorized(ctx, actor, issueID, true)
	if err != nil {
		return types.Issue{}, err
	}

	if err := validateTransition(issue.Status, types.StatusAssigned, actor.Role); err != nil {
		s.logDenied(issue, actor, types.StatusAssigned, err)
		return types.Issue{}, err
	}

	assignee, err := s.users.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Issue{}, &NotFoundError{Resource: "assignee"}
		}
		return types.Issue{}, err
	}
	if assignee.Role != types.RoleOfficial {
		return types.Issue{}, &NotFoundError{Resource: "assignee"}
	}

	category, err := s.categories.Get(ctx, issue.CategoryID)
	if err != nil {
		return types.Issue{}, err
	}
	assigneeProfile, err := s.users.GetOfficialByUserID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Issue{}, &NotFoundError{Resource: "assignee"}
		}
		return types.Issue{}, err
	}
	if assigneeProfile.Department != category.Department {
		return types.Issue{}, validationf("assignee_id", "assignee belongs to department %s, issue requires %s", assigneeProfile.Department, category.Department)
	}

	comment = strings.TrimSpace(comment)
	if comment == "" {
		comment = fmt.Sprintf("assigned to %s", assignee.Name)
	}

	record := store.TransitionRecord{
		IssueID:       issueID,
		FromStatus:    issue.Status,
		ToStatus:      types.StatusAssigned,
		ActorUserID:   actor.UserID,
		Comment:       comment,
		UpdateType:    types.UpdateAssignment,
		SetAssignedTo: &assigneeID,
	}
	if _, err := s.applyRecorded(ctx, actor, record, nil); err != nil {
		return types.Issue{}, err
	}
	return s.issues.Get(ctx, issueID)
}

// EscalateInput is the citizen's escalation request.
type EscalateInput struct {
	Reason string
	Note   string
}

// Escalate raises an issue to higher-official attention. Only the owning
// citizen may escalate, and only while the issue is in created or
// in_progress. Eligibility requires the issue to be at least 30 days old, or
// a structured reason code plus an explanatory note. Escalation forces the
// priority to urgent.
func (s *IssueService) Escalate(ctx context.Context, actor types.Actor, issueID int64, input EscalateInput) (types.Issue, error) {
	issue, err := s.getAuthorized(ctx, actor, issueID, false)
	if err != nil {
		return types.Issue{}, err
	}
	if actor.Role != types.RoleCitizen || issue.CitizenID != actor.CitizenID {
		return types.Issue{}, forbiddenf("only the reporting citizen may escalate this issue")
	}

	if err := validateTransition(issue.Status, types.StatusEscalated, actor.Role); err != nil {
		s.logDenied(issue, actor, types.StatusEscalated, err)
		return types.Issue{}, err
	}

	input.Reason = strings.TrimSpace(input.Reason)
	input.Note = strings.TrimSpace(input.Note)

	comment := input.Note
	if input.Reason != "" {
		reason, ok := types.ParseEscalationReason(input.Reason)
		if !ok {
			return types.Issue{}, validationf("reason", "unknown escalation reason %q", input.Reason)
		}
		if len(input.Note) < minCommentLen {
			return types.Issue{}, validationf("note", "an explanation of at least %d characters is required", minCommentLen)
		}
		comment = fmt.Sprintf("[%s] %s", reason, input.Note)
	} else if issue.Age(time.Now()) < escalationMinAge {
		return types.Issue{}, validationf("reason", "issue is younger than %d days; a reason and note are required", int(escalationMinAge.Hours()/24))
	} else if comment == "" {
		comment = "escalated after response timeline elapsed"
	}

	urgent := types.PriorityUrgent
	record := store.TransitionRecord{
		IssueID:     issueID,
		FromStatus:  issue.Status,
		ToStatus:    types.StatusEscalated,
		ActorUserID: actor.UserID,
		Comment:     comment,
		UpdateType:  types.UpdateEscalation,
		SetPriority: &urgent,
	}
	if _, err := s.applyRecorded(ctx, actor, record, nil); err != nil {
		return types.Issue{}, err
	}
	return s.issues.Get(ctx, issueID)
}

// Comment appends a pure comment to the audit trail. Comments are a mutation
// of the log, so terminal issues reject them too.
func (s *IssueService) Comment(ctx context.Context, actor types.Actor, issueID int64, text string, uploads []Upload) (types.IssueUpdate, error) {
	issue, err := s.getAuthorized(ctx, actor, issueID, false)
	if err != nil {
		return types.IssueUpdate{}, err
	}
	if issue.Status.Terminal() {
		return types.IssueUpdate{}, &LockedIssueError{Status: issue.Status}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return types.IssueUpdate{}, validationf("comment", "comment text is required")
	}
	if err := ValidateUploads(uploads); err != nil {
		return types.IssueUpdate{}, err
	}
	attachments, cleanup, err := s.storeUploads(ctx, uploads)
	if err != nil {
		return types.IssueUpdate{}, err
	}

	update := types.IssueUpdate{
		IssueID:      issueID,
		AuthorUserID: actor.UserID,
		OldStatus:    issue.Status,
		Comment:      text,
	}
	created, err := s.issues.AddComment(ctx, update, attachments)
	if err != nil {
		cleanup(ctx)
		return types.IssueUpdate{}, err
	}
	return created, nil
}

// getAuthorized fetches the issue and enforces the read or write guard for
// the actor's role.
func (s *IssueService) getAuthorized(ctx context.Context, actor types.Actor, id int64, write bool) (types.Issue, error) {
	issue, err := s.issues.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Issue{}, &NotFoundError{Resource: "issue"}
		}
		return types.Issue{}, err
	}

	switch actor.Role {
	case types.RoleCitizen:
		if issue.CitizenID != actor.CitizenID {
			return types.Issue{}, forbiddenf("issue belongs to another citizen")
		}
		if write {
			return types.Issue{}, forbiddenf("citizens may not change issue status directly")
		}
	case types.RoleOfficial:
		if issue.AssignedTo != nil && *issue.AssignedTo == actor.UserID {
			break
		}
		inDept, err := s.actorInDepartment(ctx, actor, issue)
		if err != nil {
			return types.Issue{}, err
		}
		if !inDept {
			return types.Issue{}, forbiddenf("issue is outside your department")
		}
		if write && issue.AssignedTo != nil {
			return types.Issue{}, forbiddenf("issue is assigned to another official")
		}
	case types.RoleHigherOfficial:
		if write && issue.Status != types.StatusEscalated {
			inDept, err := s.actorInDepartment(ctx, actor, issue)
			if err != nil {
				return types.Issue{}, err
			}
			if !inDept {
				return types.Issue{}, forbiddenf("issue is outside your department")
			}
		}
	default:
		return types.Issue{}, forbiddenf("unknown role %q", actor.Role)
	}
	return issue, nil
}

func (s *IssueService) actorInDepartment(ctx context.Context, actor types.Actor, issue types.Issue) (bool, error) {
	official, err := s.users.GetOfficialByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	category, err := s.categories.Get(ctx, issue.CategoryID)
	if err != nil {
		return false, err
	}
	return official.Department == category.Department, nil
}

// applyRecorded runs the CAS transition, translates store sentinels to the
// service taxonomy, and publishes the lifecycle event on success.
func (s *IssueService) applyRecorded(ctx context.Context, actor types.Actor, record store.TransitionRecord, attachments []types.Attachment) (types.IssueUpdate, error) {
	update, err := s.issues.ApplyTransition(ctx, record, attachments)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			log.Printf("issue %d: transition %s->%s by user %d lost to concurrent writer",
				record.IssueID, record.FromStatus, record.ToStatus, actor.UserID)
			return types.IssueUpdate{}, &ConflictError{Message: "issue was modified concurrently, retry"}
		case errors.Is(err, store.ErrNotFound):
			return types.IssueUpdate{}, &NotFoundError{Resource: "issue"}
		default:
			return types.IssueUpdate{}, err
		}
	}

	eventType := "issue.status_changed"
	if record.UpdateType == types.UpdateEscalation {
		eventType = "issue.escalated"
	}
	s.publish(ctx, issueEvent{
		Type:      eventType,
		IssueID:   record.IssueID,
		OldStatus: record.FromStatus,
		NewStatus: record.ToStatus,
		ActorID:   actor.UserID,
		At:        update.CreatedAt,
	})
	return update, nil
}

func (s *IssueService) logDenied(issue types.Issue, actor types.Actor, to types.IssueStatus, err error) {
	log.Printf("issue %d: transition %s->%s by user %d (%s) denied: %v",
		issue.ID, issue.Status, to, actor.UserID, actor.Role, err)
}

// issueEvent is the JSON payload published after committed transitions.
// Consumption (notification fan-out etc.) is outside this service.
type issueEvent struct {
	Type      string            `json:"type"`
	IssueID   int64             `json:"issue_id"`
	OldStatus types.IssueStatus `json:"old_status,omitempty"`
	NewStatus types.IssueStatus `json:"new_status"`
	ActorID   int               `json:"actor_id"`
	At        time.Time         `json:"at"`
}

func (s *IssueService) publish(ctx context.Context, event issueEvent) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	attrs := map[string]string{
		"type":     event.Type,
		"issue_id": strconv.FormatInt(event.IssueID, 10),
	}
	if _, err := s.events.Publish(ctx, s.eventTopic, payload, attrs); err != nil {
		// Event delivery is best-effort; the transition already committed.
		log.Printf("issue %d: failed to publish %s event: %v", event.IssueID, event.Type, err)
	}
}

// newObjectKey produces a random object-store key for one upload.
func newObjectKey(filename string) string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("attachments/%d-%s", time.Now().UnixNano(), filename)
	}
	return "attachments/" + hex.EncodeToString(buf[:])
}
