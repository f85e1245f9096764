package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/glimte/svcbus/internal/services/user"
)

// MemoryStore is an in-memory UserStore
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]user.Data
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]user.Data)}
}

// Create adds u, replacing any previous copy
func (s *MemoryStore) Create(_ context.Context, u user.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = u
	return nil
}

// Update replaces an existing user
func (s *MemoryStore) Update(_ context.Context, u user.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.Username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, u.Username)
	}
	s.users[u.Username] = u
	return nil
}

// Delete removes an existing user
func (s *MemoryStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	delete(s.users, username)
	return nil
}

// Get returns the stored copy of username
func (s *MemoryStore) Get(username string) (user.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// Len returns the number of stored users
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
