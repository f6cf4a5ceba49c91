package types

import "time"

// Attachment is a file linked to exactly one owner: an issue or an audit-log
// comment, never both. The binary payload lives in object storage under
// ObjectKey; this row carries only metadata. Attachments are removed only by
// cascading delete of their owner.
type Attachment struct {
	// ID is the unique identifier of the attachment.
	ID int64 `json:"id" db:"id"`

	// IssueID is set when the attachment belongs to the issue itself.
	IssueID *int64 `json:"issue_id,omitempty" db:"issue_id"`

	// CommentID is set when the attachment belongs to an audit-log entry.
	CommentID *int64 `json:"comment_id,omitempty" db:"comment_id"`

	// Filename is the original upload filename.
	Filename string `json:"filename" db:"filename"`

	// Mimetype is the declared content type, restricted to an allow-list
	// at upload time.
	Mimetype string `json:"mimetype" db:"mimetype"`

	// SizeBytes is the payload size.
	SizeBytes int64 `json:"size_bytes" db:"size_bytes"`

	// ObjectKey locates the payload in the object store.
	ObjectKey string `json:"-" db:"object_key"`

	// CreatedAt is the upload time.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
