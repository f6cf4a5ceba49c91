package services

import (
	"context"
	"errors"
	"io"

	"github.com/civicdesk/apiserver/internal/store"
	"github.com/civicdesk/apiserver/types"
)

const (
	maxUploadFiles = 5
	maxUploadBytes = 10 << 20
)

var allowedMimetypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"application/pdf": true,
}

// Upload is one incoming file, already sized by the transport layer.
type Upload struct {
	Filename string
	Mimetype string
	Size     int64
	Content  io.Reader
}

// ValidateUploads enforces the per-operation attachment limits: at most five
// files, each at most 10 MiB, each an image or a PDF.
func ValidateUploads(uploads []Upload) error {
	if len(uploads) > maxUploadFiles {
		return validationf("attachments", "at most %d files per request", maxUploadFiles)
	}
	for _, u := range uploads {
		if u.Filename == "" {
			return validationf("attachments", "file name is required")
		}
		if u.Size <= 0 || u.Size > maxUploadBytes {
			return validationf("attachments", "%s exceeds the %d MiB limit", u.Filename, maxUploadBytes>>20)
		}
		if !allowedMimetypes[u.Mimetype] {
			return validationf("attachments", "%s has unsupported type %s", u.Filename, u.Mimetype)
		}
	}
	return nil
}

// storeUploads writes each upload to object storage and returns the metadata
// rows to persist alongside. The returned cleanup removes uploaded blobs when
// the enclosing database write fails; metadata and payload must not diverge.
func (s *IssueService) storeUploads(ctx context.Context, uploads []Upload) ([]types.Attachment, func(context.Context), error) {
	if len(uploads) == 0 {
		return nil, func(context.Context) {}, nil
	}
	if s.storage == nil {
		return nil, nil, validationf("attachments", "attachment storage is not configured")
	}

	var keys []string
	cleanup := func(ctx context.Context) {
		for _, key := range keys {
			_ = s.storage.Delete(ctx, key)
		}
	}

	attachments := make([]types.Attachment, 0, len(uploads))
	for _, u := range uploads {
		key := newObjectKey(u.Filename)
		if err := s.storage.Put(ctx, key, u.Content, u.Size, u.Mimetype); err != nil {
			cleanup(ctx)
			return nil, nil, err
		}
		keys = append(keys, key)
		attachments = append(attachments, types.Attachment{
			Filename:  u.Filename,
			Mimetype:  u.Mimetype,
			SizeBytes: u.Size,
			ObjectKey: key,
		})
	}
	return attachments, cleanup, nil
}

// DownloadAttachment opens an attachment's payload for an authorized viewer
// of its issue.
func (s *IssueService) DownloadAttachment(ctx context.Context, actor types.Actor, issueID, attachmentID int64) (types.Attachment, io.ReadCloser, error) {
	if _, err := s.getAuthorized(ctx, actor, issueID, false); err != nil {
		return types.Attachment{}, nil, err
	}

	attachment, err := s.attachments.Get(ctx, issueID, attachmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Attachment{}, nil, &NotFoundError{Resource: "attachment"}
		}
		return types.Attachment{}, nil, err
	}

	reader, err := s.storage.Get(ctx, attachment.ObjectKey)
	if err != nil {
		return types.Attachment{}, nil, err
	}
	return attachment, reader, nil
}
