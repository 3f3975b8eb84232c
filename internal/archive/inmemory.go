package archive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultPerUserCap = 1000

// InMemoryStore keeps a bounded per-user archive for local runs.
type InMemoryStore struct {
	mu         sync.RWMutex
	perUserCap int
	entries    map[string][]Entry
}

func NewInMemoryStore(perUserCap int) *InMemoryStore {
	if perUserCap <= 0 {
		perUserCap = defaultPerUserCap
	}
	return &InMemoryStore{perUserCap: perUserCap, entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) SaveEntry(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.entries[entry.UserID], entry)
	if over := len(arr) - s.perUserCap; over > 0 {
		arr = append(arr[:0:0], arr[over:]...)
	}
	s.entries[entry.UserID] = arr
	return nil
}

func (s *InMemoryStore) RecentEntries(_ context.Context, userID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Entry, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
