package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const fileFields = "id, name, mimeType, webViewLink"

// DriveStore keeps evidence in Google Drive.
type DriveStore struct {
	svc *drive.Service
}

// NewDriveStore creates a Drive-backed store from service account or
// authorized-user credentials JSON.
func NewDriveStore(ctx context.Context, credentialsJSON []byte) (*DriveStore, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parsing drive credentials: %w", err)
	}
	client := oauth2.NewClient(ctx, creds.TokenSource)
	return NewDriveStoreWithOptions(ctx, option.WithHTTPClient(client))
}

// NewDriveStoreWithOptions creates a Drive-backed store with explicit client
// options, e.g. a custom endpoint for testing.
func NewDriveStoreWithOptions(ctx context.Context, opts ...option.ClientOption) (*DriveStore, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return &DriveStore{svc: svc}, nil
}

// UploadFile uploads data as a new file under parentID.
func (s *DriveStore) UploadFile(ctx context.Context, data []byte, mimeType, filename, parentID string) (*File, error) {
	meta := &drive.File{Name: filename, MimeType: mimeType}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}

	f, err := s.svc.Files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("uploading "+filename, err)
	}
	return toFile(f), nil
}

// ListFolder returns the files directly inside folderID.
func (s *DriveStore) ListFolder(ctx context.Context, folderID string) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	return s.list(ctx, q)
}

// CreateFolderIfAbsent returns the id of the folder called name under
// parentID, creating it when missing.
func (s *DriveStore) CreateFolderIfAbsent(ctx context.Context, parentID, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), FolderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}

	existing, err := s.list(ctx, q)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	meta := &drive.File{Name: name, MimeType: FolderMimeType}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}
	f, err := s.svc.Files.Create(meta).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", mapError("creating folder "+name, err)
	}
	return f.Id, nil
}

// DownloadFile returns the content of a file.
func (s *DriveStore) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := s.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, mapError("downloading "+fileID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, fileID, err)
	}
	return data, nil
}

func (s *DriveStore) list(ctx context.Context, q string) ([]File, error) {
	var files []File
	call := s.svc.Files.List().
		Q(q).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)

	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			files = append(files, *toFile(f))
		}
		return nil
	})
	if err != nil {
		return nil, mapError("listing files", err)
	}
	return files, nil
}

func toFile(f *drive.File) *File {
	return &File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, URL: f.WebViewLink}
}

// mapError turns a Drive failure into ErrNotFound or ErrUnavailable.
func mapError(action string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", action, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, action, err)
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
