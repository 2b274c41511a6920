package memory

import (
	"context"
	"sync"

	"github.com/sirosfoundation/go-http-capture/internal/storage"
)

// DefaultCapacity is used when NewStore is given a non-positive capacity
const DefaultCapacity = 1000

// Store implements an in-memory capture history. It keeps the most recent
// entries up to its capacity and drops the oldest on overflow.
type Store struct {
	mu       sync.RWMutex
	capacity int
	entries  []*storage.Entry // oldest first
	byID     map[string]*storage.Entry
}

// NewStore creates a new in-memory store
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		entries:  make([]*storage.Entry, 0, capacity),
		byID:     make(map[string]*storage.Entry),
	}
}

func (s *Store) Append(ctx context.Context, entry *storage.Entry) error {
	if err := storage.Validate(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[entry.ID]; exists {
		return storage.ErrAlreadyExists
	}

	if len(s.entries) >= s.capacity {
		oldest := s.entries[0]
		delete(s.byID, oldest.ID)
		s.entries[0] = nil
		s.entries = s.entries[1:]
	}

	stored := copyEntry(entry)
	s.entries = append(s.entries, stored)
	s.byID[stored.ID] = stored
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEntry(entry), nil
}

func (s *Store) List(ctx context.Context, filter storage.Filter) ([]*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.Entry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
		if filter.Matches(s.entries[i]) {
			result = append(result, copyEntry(s.entries[i]))
		}
	}
	return result, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]*storage.Entry, 0, s.capacity)
	s.byID = make(map[string]*storage.Entry)
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *Store) Capacity() int                  { return s.capacity }
func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func copyEntry(e *storage.Entry) *storage.Entry {
	cp := *e
	cp.Request = e.Request.Clone()
	return &cp
}
