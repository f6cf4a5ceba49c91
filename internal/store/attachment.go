package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/civicdesk/apiserver/types"
)

// AttachmentRepository reads attachment metadata. Writes happen inside the
// issue repository's transactions so metadata is never linked without its
// owning issue row or audit entry.
type AttachmentRepository struct {
	db *sql.DB
}

func NewAttachmentRepository(db *sql.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

const attachmentColumns = `id, issue_id, comment_id, filename, mimetype, size_bytes, object_key, created_at`

// Get returns one attachment, verifying it belongs to the given issue either
// directly or through one of the issue's audit entries.
func (r *AttachmentRepository) Get(ctx context.Context, issueID, attachmentID int64) (types.Attachment, error) {
	const query = `
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE id = $1
		  AND (issue_id = $2 OR comment_id IN (SELECT id FROM issue_updates WHERE issue_id = $2))`
	row := r.db.QueryRowContext(ctx, query, attachmentID, issueID)
	attachment, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Attachment{}, ErrNotFound
		}
		return types.Attachment{}, err
	}
	return attachment, nil
}

// ListByIssue returns the issue's own attachments plus those of its audit
// entries, oldest first.
func (r *AttachmentRepository) ListByIssue(ctx context.Context, issueID int64) ([]types.Attachment, error) {
	const query = `
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE issue_id = $1 OR comment_id IN (SELECT id FROM issue_updates WHERE issue_id = $1)
		ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attachments []types.Attachment
	for rows.Next() {
		attachment, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, attachment)
	}
	return attachments, rows.Err()
}

func scanAttachment(row interface{ Scan(...any) error }) (types.Attachment, error) {
	var attachment types.Attachment
	var issueID, commentID sql.NullInt64
	err := row.Scan(
		&attachment.ID,
		&issueID,
		&commentID,
		&attachment.Filename,
		&attachment.Mimetype,
		&attachment.SizeBytes,
		&attachment.ObjectKey,
		&attachment.CreatedAt,
	)
	if err != nil {
		return types.Attachment{}, err
	}
	if issueID.Valid {
		attachment.IssueID = &issueID.Int64
	}
	if commentID.Valid {
		attachment.CommentID = &commentID.Int64
	}
	return attachment, nil
}
