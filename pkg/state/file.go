package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileLayout is the on-disk JSON shape:
//
//	{"bookmarks": {"flow_runs": {"": "2023-06-01T00:00:00Z"}}}
//
// The inner map is keyed by partition; top-level streams use "".
type fileLayout struct {
	Bookmarks map[string]map[string]string `json:"bookmarks"`
}

// FileStore persists bookmarks to a JSON file. Every successful
// SetBookmark rewrites the file atomically (temp file + rename).
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileLayout
}

// NewFileStore opens (or initializes) a bookmark file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: fileLayout{Bookmarks: make(map[string]map[string]string)},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parse state file: %w", err)
		}
	}
	if s.data.Bookmarks == nil {
		s.data.Bookmarks = make(map[string]map[string]string)
	}

	return s, nil
}

// Bookmark implements Store.
func (s *FileStore) Bookmark(ctx context.Context, stream, partition string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Bookmarks[stream][partition], nil
}

// SetBookmark implements Store.
func (s *FileStore) SetBookmark(ctx context.Context, stream, partition string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !advances(s.data.Bookmarks[stream][partition], value) {
		return nil
	}
	if s.data.Bookmarks[stream] == nil {
		s.data.Bookmarks[stream] = make(map[string]string)
	}
	s.data.Bookmarks[stream][partition] = value

	return s.flush()
}

// Snapshot implements Snapshotter.
func (s *FileStore) Snapshot() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]string, len(s.data.Bookmarks))
	for stream, parts := range s.data.Bookmarks {
		cp := make(map[string]string, len(parts))
		for k, v := range parts {
			cp[k] = v
		}
		out[stream] = cp
	}
	return out
}

// flush writes the state file atomically. Callers hold s.mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
