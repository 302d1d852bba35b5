package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/evcraddock/field-visits/internal/visit"
)

// Linker attaches uploaded evidence to a session's check-in.
type Linker interface {
	AttachCheckinEvidence(ctx context.Context, sessionID string, ev visit.Evidence) error
}

// Uploader stores check-in photos in one folder per representative and links
// them to their session.
type Uploader struct {
	store  Store
	cache  FolderCache
	linker Linker
	rootID string
}

// NewUploader creates an uploader. rootID is the folder holding the
// per-representative folders; empty means the store root.
func NewUploader(store Store, cache FolderCache, linker Linker, rootID string) *Uploader {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Uploader{store: store, cache: cache, linker: linker, rootID: rootID}
}

// Store returns the underlying evidence store.
func (u *Uploader) Store() Store {
	return u.store
}

// UploadCheckinPhoto uploads a check-in photo and back-fills the session's
// check-in event. The stored file is named after the session, keeping only the
// extension of the device filename, so a retried upload for the same session
// reuses its file and no two sessions share one. Store failures wrap
// ErrUnavailable; the session itself is left as it is.
func (u *Uploader) UploadCheckinPhoto(ctx context.Context, repID int64, sessionID string, data []byte, mimeType, filename string) (visit.Evidence, error) {
	if len(data) == 0 {
		return visit.Evidence{}, fmt.Errorf("photo is empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	filename = storedName(sessionID, mimeType, filename)

	f, err := u.upload(ctx, repID, data, mimeType, filename)
	if errors.Is(err, ErrNotFound) {
		// The cached folder is gone; resolve it again once.
		u.cache.Delete(folderKey(repID))
		f, err = u.upload(ctx, repID, data, mimeType, filename)
	}
	if err != nil {
		slog.Warn("evidence upload failed", "rep_id", repID, "session_id", sessionID, "err", err)
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return visit.Evidence{}, err
	}

	ev := visit.Evidence{FileID: f.ID, URL: f.URL}
	if err := u.linker.AttachCheckinEvidence(ctx, sessionID, ev); err != nil {
		return ev, err
	}

	slog.Info("check-in evidence stored", "rep_id", repID, "session_id", sessionID, "file_id", f.ID)
	return ev, nil
}

func (u *Uploader) upload(ctx context.Context, repID int64, data []byte, mimeType, filename string) (*File, error) {
	folderID, err := u.repFolder(ctx, repID)
	if err != nil {
		return nil, err
	}

	existing, err := u.store.ListFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, f := range existing {
		if f.Name == filename {
			slog.Debug("reusing existing evidence file", "file_id", f.ID, "name", filename)
			return &f, nil
		}
	}

	return u.store.UploadFile(ctx, data, mimeType, filename, folderID)
}

func (u *Uploader) repFolder(ctx context.Context, repID int64) (string, error) {
	key := folderKey(repID)
	if id, ok := u.cache.Get(key); ok {
		return id, nil
	}

	id, err := u.store.CreateFolderIfAbsent(ctx, u.rootID, fmt.Sprintf("rep-%d", repID))
	if err != nil {
		return "", err
	}
	u.cache.Set(key, id)
	return id, nil
}

func folderKey(repID int64) string {
	return fmt.Sprintf("rep/%d", repID)
}

// storedName is the file name of a session's check-in photo.
func storedName(sessionID, mimeType, deviceName string) string {
	ext := extension(mimeType)
	if ext == "" {
		ext = strings.ToLower(path.Ext(deviceName))
	}
	return sessionID + ext
}

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
