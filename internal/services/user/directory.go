package user

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]Data
}

// NewMemoryDirectory creates a directory holding users
func NewMemoryDirectory(users ...Data) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]Data, len(users))}
	for _, u := range users {
		d.users[u.Username] = u
	}
	return d
}

// Lookup returns the user named username or ErrNotFound
func (d *MemoryDirectory) Lookup(_ context.Context, username string) (Data, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[username]
	if !ok {
		return Data{}, ErrNotFound
	}
	return u, nil
}

// Put adds or replaces a user
func (d *MemoryDirectory) Put(u Data) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.Username] = u
}

// Delete removes a user
func (d *MemoryDirectory) Delete(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, username)
}
