// Package state persists replication bookmarks across invocations.
//
// A bookmark is the maximum replication-key value seen for a (stream,
// partition) pair. Replication keys are ISO-8601 UTC timestamps, so
// values compare lexicographically; stores never lower an existing
// bookmark.
package state

import (
	"context"
	"sync"
)

// Store reads and writes replication bookmarks.
type Store interface {
	// Bookmark returns the stored cursor for a stream and partition,
	// or "" when none exists.
	Bookmark(ctx context.Context, stream, partition string) (string, error)

	// SetBookmark stores a cursor. Implementations must keep bookmarks
	// monotonic: a value lower than the stored one is ignored.
	SetBookmark(ctx context.Context, stream, partition string, value string) error
}

// Snapshotter is implemented by stores that can report all bookmarks,
// e.g. for emitting a final STATE message.
type Snapshotter interface {
	Snapshot() map[string]map[string]string
}

// advances reports whether next moves the bookmark forward.
func advances(current, next string) bool {
	return next != "" && (current == "" || next > current)
}

// MemoryStore keeps bookmarks in memory. Intended for tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	bookmarks map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookmarks: make(map[string]map[string]string)}
}

// Bookmark implements Store.
func (s *MemoryStore) Bookmark(ctx context.Context, stream, partition string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookmarks[stream][partition], nil
}

// SetBookmark implements Store.
func (s *MemoryStore) SetBookmark(ctx context.Context, stream, partition string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !advances(s.bookmarks[stream][partition], value) {
		return nil
	}
	if s.bookmarks[stream] == nil {
		s.bookmarks[stream] = make(map[string]string)
	}
	s.bookmarks[stream][partition] = value
	return nil
}

// Snapshot implements Snapshotter.
func (s *MemoryStore) Snapshot() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]string, len(s.bookmarks))
	for stream, parts := range s.bookmarks {
		cp := make(map[string]string, len(parts))
		for k, v := range parts {
			cp[k] = v
		}
		out[stream] = cp
	}
	return out
}
