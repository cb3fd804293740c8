package recordstore

import (
	"context"
	"strconv"
	"sync"
)

type memoryEntry struct {
	value    []byte
	revision uint64
}

// MemoryStore keeps records in process memory. Messages are discarded.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Read returns a copy of the stored value.
func (s *MemoryStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Value:   append([]byte(nil), entry.value...),
		Version: memoryVersion(entry.revision),
	}, nil
}

// Write performs the conditional write under the store mutex.
func (s *MemoryStore) Write(ctx context.Context, key string, value []byte, _ string, expected Version) (Version, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.entries[key]
	switch {
	case expected == "" && exists:
		return "", ErrConflict
	case expected != "" && (!exists || memoryVersion(current.revision) != expected):
		return "", ErrConflict
	}

	s.clock++
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), revision: s.clock}
	return memoryVersion(s.clock), nil
}

func memoryVersion(revision uint64) Version {
	return Version(strconv.FormatUint(revision, 10))
}

var _ Store = (*MemoryStore)(nil)
