package approval

import (
	"context"
	"sync"
	"time"
)

// Store persists approval requests.
type Store interface {
	// Create saves a new request. ttl bounds how long the store keeps it.
	Create(ctx context.Context, req *Request, ttl time.Duration) error

	// Get returns a copy of the request or ErrNotFound.
	Get(ctx context.Context, id string) (*Request, error)

	// Update applies fn to the stored request atomically. If fn returns an
	// error the request is left unchanged.
	Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error)
}

// MemoryStore keeps requests in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	req     *Request
	evictAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, req *Request, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	s.items[req.ID] = memoryItem{req: req.Clone(), evictAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item.req.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := item.req.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	item.req = next
	s.items[id] = item
	return next.Clone(), nil
}

// Len returns the number of live requests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
	return len(s.items)
}

func (s *MemoryStore) cleanupLocked() {
	now := s.now()
	for id, item := range s.items {
		if now.After(item.evictAt) {
			delete(s.items, id)
		}
	}
}
