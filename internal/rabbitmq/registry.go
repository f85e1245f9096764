package rabbitmq

import (
	"fmt"
	"sync"
	"time"
)

type pendingResponse struct {
	waiter    chan map[string]any
	createdAt time.Time
}

// RegistryStats summarizes the in-flight requests
type RegistryStats struct {
	Pending int
	Oldest  time.Duration
}

// PendingResponses maps correlation IDs to the requests waiting for them.
// Each entry is completed at most once; completing removes it.
type PendingResponses struct {
	mu      sync.Mutex
	pending map[string]*pendingResponse
}

// NewPendingResponses creates an empty registry
func NewPendingResponses() *PendingResponses {
	return &PendingResponses{pending: make(map[string]*pendingResponse)}
}

// Register adds a waiter for id. The returned channel receives the reply body once.
func (r *PendingResponses) Register(id string) (<-chan map[string]any, error) {
	if id == "" {
		return nil, ErrEmptyCorrelationID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, id)
	}

	entry := &pendingResponse{
		waiter:    make(chan map[string]any, 1),
		createdAt: time.Now(),
	}
	r.pending[id] = entry
	return entry.waiter, nil
}

// Resolve completes and removes the waiter for id. It reports false when no
// waiter was pending, e.g. because the request already timed out.
func (r *PendingResponses) Resolve(id string, body map[string]any) bool {
	r.mu.Lock()
	entry, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	entry.waiter <- body
	return true
}

// Remove drops the waiter for id without completing it
func (r *PendingResponses) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// Has reports whether id is pending
func (r *PendingResponses) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Len returns the number of pending requests
func (r *PendingResponses) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Stats returns the pending count and the age of the oldest entry
func (r *PendingResponses) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{Pending: len(r.pending)}
	now := time.Now()
	for _, entry := range r.pending {
		if age := now.Sub(entry.createdAt); age > stats.Oldest {
			stats.Oldest = age
		}
	}
	return stats
}
