// Package evidence stores check-in photos in remote file storage and links
// them back to visit sessions.
package evidence

import (
	"context"
	"errors"
)

// ErrUnavailable wraps any failure of the remote store. The visit stays
// recorded; the photo has to be retried.
var ErrUnavailable = errors.New("evidence store unavailable")

// ErrNotFound is returned when a file or folder does not exist.
var ErrNotFound = errors.New("evidence file not found")

// FolderMimeType marks folders in the remote store.
const FolderMimeType = "application/vnd.google-apps.folder"

// File is a file or folder held by the remote store.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Store is the remote file storage used for evidence.
type Store interface {
	UploadFile(ctx context.Context, data []byte, mimeType, filename, parentID string) (*File, error)
	ListFolder(ctx context.Context, folderID string) ([]File, error)
	CreateFolderIfAbsent(ctx context.Context, parentID, name string) (string, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}
