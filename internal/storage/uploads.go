package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// Upload persists an attachment's raw content and returns a copy carrying a
// durable storage id. It satisfies the attachment pipeline's Uploader.
func (s *Store) Upload(ctx context.Context, att message.Attachment) (message.Attachment, error) {
	storageID := uuid.NewString()

	query := `INSERT INTO uploads (storage_id, name, mime_type, size, content)
	          VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, storageID, att.Name, att.MimeType, att.Size, att.Content); err != nil {
		return message.Attachment{}, fmt.Errorf("failed to store upload: %w", err)
	}

	att.StorageID = storageID
	return att, nil
}

// FetchUpload loads an uploaded attachment's content by storage id.
func (s *Store) FetchUpload(ctx context.Context, storageID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM uploads WHERE storage_id = ?`, storageID).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("failed to fetch upload %s: %w", storageID, err)
	}
	return content, nil
}
