package notification

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Listener is one active stream subscriber.
type Listener struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// ListenerRegistry tracks active stream subscribers with thread-safe
// access.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners map[string]*Listener
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners: make(map[string]*Listener),
	}
}

// Add registers a new listener and returns its id together with the
// resulting count. The count is computed in the same critical section so
// zero-to-one transitions are unambiguous under concurrent joins.
func (r *ListenerRegistry) Add() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	now := time.Now()
	r.listeners[id] = &Listener{ID: id, JoinedAt: now, LastSeen: now}
	return id, len(r.listeners)
}

// Remove drops a listener and returns the resulting count.
func (r *ListenerRegistry) Remove(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, id)
	return len(r.listeners)
}

// TouchAll refreshes LastSeen for every listener. Called after a
// broadcast reached them.
func (r *ListenerRegistry) TouchAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, l := range r.listeners {
		l.LastSeen = now
	}
}

// All returns the listeners ordered by join time.
func (r *ListenerRegistry) All() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		result = append(result, *l)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

// Count returns the number of active listeners.
func (r *ListenerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
