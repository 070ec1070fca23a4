package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps the bundle in process memory. It is used per chat request
// (seeded from the client's copy) and as the default server backend in dev.
type MemoryStore struct {
	mu sync.RWMutex
	b  Bundle
}

// NewMemoryStore returns a store seeded with b (which may be empty).
func NewMemoryStore(b Bundle) *MemoryStore {
	return &MemoryStore{b: b}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context) (Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.b, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, p Patch) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b = p.Apply(s.b)
	return s.b, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.b = Bundle{}
	return nil
}
