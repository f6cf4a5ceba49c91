package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civicdesk/apiserver/types"
)

// IssueRepository handles persistence for issues, their append-only audit
// trail, and attachment metadata. All writes that touch both the issues row
// and the issue_updates log run in a single transaction.
type IssueRepository struct {
	db *sql.DB
}

func NewIssueRepository(db *sql.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

// IssueFilter describes the list query. Scope fields narrow the result to
// what the actor is allowed to see; filter fields are optional refinements
// within that scope.
type IssueFilter struct {
	CitizenID        *int
	AssignedTo       *int
	Department       *string
	EscalatedOnly    bool
	ExcludeEscalated bool

	Status     *types.IssueStatus
	CategoryID *int
	Priority   *types.IssuePriority

	SortBy string
	Offset int
	Limit  int
}

// TransitionRecord is one atomic application of the state machine: the CAS
// update of the issues row plus the audit entry written with it.
type TransitionRecord struct {
	IssueID     int64
	FromStatus  types.IssueStatus
	ToStatus    types.IssueStatus
	ActorUserID int
	Comment     string
	UpdateType  types.UpdateType

	SetPriority    *types.IssuePriority
	SetAssignedTo  *int
	ResolutionNote string
	ResolvedAt     *time.Time
}

const issueColumns = `
	i.id, i.citizen_id, i.title, i.description, i.category_id, c.name,
	i.priority, i.status, i.assigned_to, i.remarks, i.resolution_note,
	i.resolved_at, i.created_at, i.modified_at, i.modified_by`

// Create inserts the issue, its initial audit entry, and any attachment
// metadata rows in one transaction.
func (r *IssueRepository) Create(ctx context.Context, issue types.Issue, attachments []types.Attachment) (types.Issue, error) {
	now := time.Now()
	issue.CreatedAt = now
	issue.ModifiedAt = now
	issue.Status = types.StatusCreated

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Issue{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertIssue = `
		INSERT INTO issues (citizen_id, title, description, category_id, priority, status,
			remarks, created_at, modified_at, modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7, $8, $9)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertIssue,
		issue.CitizenID,
		issue.Title,
		issue.Description,
		issue.CategoryID,
		issue.Priority,
		issue.Status,
		issue.CreatedAt,
		issue.ModifiedAt,
		issue.ModifiedBy,
	).Scan(&issue.ID); err != nil {
		return types.Issue{}, err
	}

	status := issue.Status
	const insertUpdate = `
		INSERT INTO issue_updates (issue_id, author_user_id, old_status, new_status, comment, update_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(
		ctx,
		insertUpdate,
		issue.ID,
		issue.ModifiedBy,
		status,
		status,
		"issue reported",
		types.UpdateStatusChange,
		now,
	); err != nil {
		return types.Issue{}, err
	}

	for _, attachment := range attachments {
		if err := insertAttachment(ctx, tx, &issue.ID, nil, attachment, now); err != nil {
			return types.Issue{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Issue{}, err
	}
	return issue, nil
}

func (r *IssueRepository) Get(ctx context.Context, id int64) (types.Issue, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM issues i
		JOIN categories c ON c.id = i.category_id
		WHERE i.id = $1`, issueColumns)
	issue, err := scanIssue(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Issue{}, ErrNotFound
		}
		return types.Issue{}, err
	}
	return issue, nil
}

// List returns one page of issues matching the filter plus the total count of
// the whole filtered scope, not the page length. Both queries share the same
// WHERE clause.
func (r *IssueRepository) List(ctx context.Context, filter IssueFilter) ([]types.Issue, int, error) {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}

	where, args := buildIssueWhere(filter)

	countQuery := `SELECT COUNT(1) FROM issues i JOIN categories c ON c.id = i.category_id` + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM issues i
		JOIN categories c ON c.id = i.category_id%s
		ORDER BY %s
		OFFSET $%d LIMIT $%d`,
		issueColumns, where, issueOrderExpr(filter.SortBy), len(args)+1, len(args)+2)
	args = append(args, filter.Offset, filter.Limit)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	issues := make([]types.Issue, 0, filter.Limit)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, err
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return issues, total, nil
}

// CountByStatus returns per-status counts within the filtered scope.
func (r *IssueRepository) CountByStatus(ctx context.Context, filter IssueFilter) (map[types.IssueStatus]int, error) {
	where, args := buildIssueWhere(filter)
	query := `
		SELECT i.status, COUNT(1)
		FROM issues i
		JOIN categories c ON c.id = i.category_id` + where + `
		GROUP BY i.status`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.IssueStatus]int)
	for rows.Next() {
		var status types.IssueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ApplyTransition performs the compare-and-swap status update and writes the
// audit entry in the same transaction. A concurrent writer that already moved
// the issue off record.FromStatus gets ErrConflict; an unknown issue id gets
// ErrNotFound. Partial application is impossible: either both rows land or
// neither does.
func (r *IssueRepository) ApplyTransition(ctx context.Context, record TransitionRecord, attachments []types.Attachment) (types.IssueUpdate, error) {
	now := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.IssueUpdate{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	set := []string{"status = $1", "modified_at = $2", "modified_by = $3", "remarks = $4"}
	args := []any{record.ToStatus, now, record.ActorUserID, record.Comment}
	if record.SetPriority != nil {
		set = append(set, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *record.SetPriority)
	}
	if record.SetAssignedTo != nil {
		set = append(set, fmt.Sprintf("assigned_to = $%d", len(args)+1))
		args = append(args, *record.SetAssignedTo)
	}
	if record.ResolutionNote != "" {
		set = append(set, fmt.Sprintf("resolution_note = $%d", len(args)+1))
		args = append(args, record.ResolutionNote)
	}
	if record.ResolvedAt != nil {
		set = append(set, fmt.Sprintf("resolved_at = $%d", len(args)+1))
		args = append(args, *record.ResolvedAt)
	}

	updateQuery := fmt.Sprintf(
		`UPDATE issues SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(set, ", "), len(args)+1, len(args)+2)
	args = append(args, record.IssueID, record.FromStatus)

	result, err := tx.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		return types.IssueUpdate{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.IssueUpdate{}, err
	}
	if affected == 0 {
		// Distinguish a missing issue from a lost race.
		var current types.IssueStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM issues WHERE id = $1`, record.IssueID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return types.IssueUpdate{}, ErrNotFound
		}
		if err != nil {
			return types.IssueUpdate{}, err
		}
		return types.IssueUpdate{}, ErrConflict
	}

	update := types.IssueUpdate{
		IssueID:      record.IssueID,
		AuthorUserID: record.ActorUserID,
		OldStatus:    record.FromStatus,
		NewStatus:    &record.ToStatus,
		Comment:      record.Comment,
		UpdateType:   record.UpdateType,
		CreatedAt:    now,
	}
	const insertUpdate = `
		INSERT INTO issue_updates (issue_id, author_user_id, old_status, new_status, comment, update_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertUpdate,
		update.IssueID,
		update.AuthorUserID,
		update.OldStatus,
		update.NewStatus,
		update.Comment,
		update.UpdateType,
		update.CreatedAt,
	).Scan(&update.ID); err != nil {
		return types.IssueUpdate{}, err
	}

	for _, attachment := range attachments {
		if err := insertAttachment(ctx, tx, nil, &update.ID, attachment, now); err != nil {
			return types.IssueUpdate{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.IssueUpdate{}, err
	}
	return update, nil
}

// AddComment appends a pure comment entry (no status movement) and its
// attachment metadata in one transaction.
func (r *IssueRepository) AddComment(ctx context.Context, update types.IssueUpdate, attachments []types.Attachment) (types.IssueUpdate, error) {
	now := time.Now()
	update.CreatedAt = now
	update.NewStatus = nil
	update.UpdateType = types.UpdateComment

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.IssueUpdate{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertUpdate = `
		INSERT INTO issue_updates (issue_id, author_user_id, old_status, new_status, comment, update_type, created_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $6)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertUpdate,
		update.IssueID,
		update.AuthorUserID,
		update.OldStatus,
		update.Comment,
		update.UpdateType,
		update.CreatedAt,
	).Scan(&update.ID); err != nil {
		return types.IssueUpdate{}, err
	}

	for _, attachment := range attachments {
		if err := insertAttachment(ctx, tx, nil, &update.ID, attachment, now); err != nil {
			return types.IssueUpdate{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.IssueUpdate{}, err
	}
	return update, nil
}

// ListUpdates returns the full audit trail for an issue, oldest first.
func (r *IssueRepository) ListUpdates(ctx context.Context, issueID int64) ([]types.IssueUpdate, error) {
	const query = `
		SELECT iu.id, iu.issue_id, iu.author_user_id, u.name, u.role,
		       iu.old_status, iu.new_status, iu.comment, iu.update_type, iu.created_at
		FROM issue_updates iu
		JOIN users u ON u.id = iu.author_user_id
		WHERE iu.issue_id = $1
		ORDER BY iu.created_at, iu.id`
	rows, err := r.db.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []types.IssueUpdate
	for rows.Next() {
		var update types.IssueUpdate
		var newStatus sql.NullString
		if err := rows.Scan(
			&update.ID,
			&update.IssueID,
			&update.AuthorUserID,
			&update.AuthorName,
			&update.AuthorRole,
			&update.OldStatus,
			&newStatus,
			&update.Comment,
			&update.UpdateType,
			&update.CreatedAt,
		); err != nil {
			return nil, err
		}
		if newStatus.Valid {
			status := types.IssueStatus(newStatus.String)
			update.NewStatus = &status
		}
		updates = append(updates, update)
	}
	return updates, rows.Err()
}

// LatestUpdate returns the most recent audit entry that moved the status.
func (r *IssueRepository) LatestUpdate(ctx context.Context, issueID int64) (types.IssueUpdate, error) {
	const query = `
		SELECT id, issue_id, author_user_id, old_status, new_status, comment, update_type, created_at
		FROM issue_updates
		WHERE issue_id = $1 AND new_status IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	var update types.IssueUpdate
	var newStatus sql.NullString
	err := r.db.QueryRowContext(ctx, query, issueID).Scan(
		&update.ID,
		&update.IssueID,
		&update.AuthorUserID,
		&update.OldStatus,
		&newStatus,
		&update.Comment,
		&update.UpdateType,
		&update.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.IssueUpdate{}, ErrNotFound
		}
		return types.IssueUpdate{}, err
	}
	if newStatus.Valid {
		status := types.IssueStatus(newStatus.String)
		update.NewStatus = &status
	}
	return update, nil
}

func buildIssueWhere(filter IssueFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, value any) {
		conds = append(conds, fmt.Sprintf(cond, len(args)+1))
		args = append(args, value)
	}

	if filter.CitizenID != nil {
		add("i.citizen_id = $%d", *filter.CitizenID)
	}
	if filter.AssignedTo != nil {
		add("i.assigned_to = $%d", *filter.AssignedTo)
	}
	if filter.Department != nil {
		add("c.department = $%d", *filter.Department)
	}
	if filter.EscalatedOnly {
		conds = append(conds, fmt.Sprintf("i.status = '%s'", types.StatusEscalated))
	}
	if filter.ExcludeEscalated {
		conds = append(conds, fmt.Sprintf("i.status <> '%s'", types.StatusEscalated))
	}
	if filter.Status != nil {
		add("i.status = $%d", *filter.Status)
	}
	if filter.CategoryID != nil {
		add("i.category_id = $%d", *filter.CategoryID)
	}
	if filter.Priority != nil {
		add("i.priority = $%d", *filter.Priority)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// issueOrderExpr maps a sort key to an ORDER BY expression. The priority and
// status rank expressions are generated from the fixed orders in the types
// package so SQL sorting can never drift from in-memory sorting.
func issueOrderExpr(sortBy string) string {
	switch sortBy {
	case "oldest":
		return "i.created_at ASC, i.id ASC"
	case "priority":
		return rankCaseExpr("i.priority", prioritiesAsStrings()) + ", i.created_at DESC"
	case "status":
		return rankCaseExpr("i.status", statusesAsStrings()) + ", i.created_at DESC"
	default: // newest
		return "i.created_at DESC, i.id DESC"
	}
}

func rankCaseExpr(column string, order []string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for i, value := range order {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", value, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(order))
	return b.String()
}

func prioritiesAsStrings() []string {
	out := make([]string, len(types.PriorityOrder))
	for i, p := range types.PriorityOrder {
		out[i] = string(p)
	}
	return out
}

func statusesAsStrings() []string {
	out := make([]string, len(types.StatusOrder))
	for i, s := range types.StatusOrder {
		out[i] = string(s)
	}
	return out
}

func scanIssue(row interface{ Scan(...any) error }) (types.Issue, error) {
	var issue types.Issue
	var assignedTo sql.NullInt64
	var remarks, resolutionNote sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&issue.ID,
		&issue.CitizenID,
		&issue.Title,
		&issue.Description,
		&issue.CategoryID,
		&issue.CategoryName,
		&issue.Priority,
		&issue.Status,
		&assignedTo,
		&remarks,
		&resolutionNote,
		&resolvedAt,
		&issue.CreatedAt,
		&issue.ModifiedAt,
		&issue.ModifiedBy,
	)
	if err != nil {
		return types.Issue{}, err
	}
	if assignedTo.Valid {
		value := int(assignedTo.Int64)
		issue.AssignedTo = &value
	}
	issue.Remarks = remarks.String
	issue.ResolutionNote = resolutionNote.String
	if resolvedAt.Valid {
		issue.ResolvedAt = &resolvedAt.Time
	}
	return issue, nil
}

func insertAttachment(ctx context.Context, tx *sql.Tx, issueID *int64, commentID *int64, attachment types.Attachment, now time.Time) error {
	const query = `
		INSERT INTO attachments (issue_id, comment_id, filename, mimetype, size_bytes, object_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := tx.ExecContext(
		ctx,
		query,
		issueID,
		commentID,
		attachment.Filename,
		attachment.Mimetype,
		attachment.SizeBytes,
		attachment.ObjectKey,
		now,
	)
	return err
}
