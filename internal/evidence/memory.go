package evidence

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used in dev mode and tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int
	files   map[string]memFile
	uploads int

	// Fail, when set, makes every call return it wrapped in ErrUnavailable.
	Fail error
}

type memFile struct {
	File
	parent string
	data   []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]memFile)}
}

// Uploads returns how many files have been uploaded.
func (s *MemoryStore) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// UploadFile stores data under parentID.
func (s *MemoryStore) UploadFile(_ context.Context, data []byte, mimeType, filename, parentID string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(parentID); err != nil {
		return nil, err
	}

	f := s.add(parentID, filename, mimeType)
	f.data = append([]byte(nil), data...)
	s.files[f.ID] = f
	s.uploads++
	return &f.File, nil
}

// ListFolder returns the files inside folderID, ordered by name.
func (s *MemoryStore) ListFolder(_ context.Context, folderID string) ([]File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(folderID); err != nil {
		return nil, err
	}

	var out []File
	for _, f := range s.files {
		if f.parent == folderID {
			out = append(out, f.File)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateFolderIfAbsent returns the folder called name under parentID, creating it when missing.
func (s *MemoryStore) CreateFolderIfAbsent(_ context.Context, parentID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(parentID); err != nil {
		return "", err
	}

	for _, f := range s.files {
		if f.parent == parentID && f.Name == name && f.MimeType == FolderMimeType {
			return f.ID, nil
		}
	}
	f := s.add(parentID, name, FolderMimeType)
	s.files[f.ID] = f
	return f.ID, nil
}

// DownloadFile returns the content of a file.
func (s *MemoryStore) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, s.Fail)
	}

	f, ok := s.files[fileID]
	if !ok || f.MimeType == FolderMimeType {
		return nil, fmt.Errorf("downloading %s: %w", fileID, ErrNotFound)
	}
	return append([]byte(nil), f.data...), nil
}

// Remove deletes a file or folder and everything inside it.
func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

func (s *MemoryStore) remove(id string) {
	delete(s.files, id)
	for childID, f := range s.files {
		if f.parent == id {
			s.remove(childID)
		}
	}
}

// check must be called with mu held. An empty parent is the store root.
func (s *MemoryStore) check(parentID string) error {
	if s.Fail != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, s.Fail)
	}
	if parentID == "" {
		return nil
	}
	if f, ok := s.files[parentID]; !ok || f.MimeType != FolderMimeType {
		return fmt.Errorf("folder %s: %w", parentID, ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) add(parentID, name, mimeType string) memFile {
	s.nextID++
	id := fmt.Sprintf("mem_%d", s.nextID)
	return memFile{
		File:   File{ID: id, Name: name, MimeType: mimeType, URL: "mem://" + id},
		parent: parentID,
	}
}
