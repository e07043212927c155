package audiohook

import (
	"errors"
	"sort"
	"sync"
)

// Registry is the concurrency-safe set of live sessions, keyed by session id.
type Registry interface {
	// Insert adds s under its id. It fails if the id is empty or already live.
	Insert(s *Session) error

	// Get returns the live session with the given id.
	Get(id SessionID) (*Session, bool)

	// Remove deletes id only while it still maps to s, so a connection that
	// lost an id race cannot evict the winner. It reports whether s was removed.
	Remove(id SessionID, s *Session) bool

	// Count returns the number of live sessions. Used for metrics and health.
	Count() int

	// Summaries returns the stats view of every live session, ordered by
	// start time then id.
	Summaries() []Summary
}

var (
	// ErrSessionExists is returned when a session id is already live.
	ErrSessionExists = errors.New("session already exists")

	// ErrEmptySessionID is returned when neither the connection headers nor
	// the open message carried a session id.
	ErrEmptySessionID = errors.New("session id is empty")
)

// InMemoryRegistry is a concurrency-safe in-memory implementation of Registry.
// It uses a Store for the map itself; by default that is an InMemoryStore.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRegistry constructs a registry with a default in-memory store.
func NewInMemoryRegistry() *InMemoryRegistry {
	return NewInMemoryRegistryWithStore(NewInMemoryStore())
}

// NewInMemoryRegistryWithStore constructs a registry that uses the given Store.
func NewInMemoryRegistryWithStore(store Store) *InMemoryRegistry {
	return &InMemoryRegistry{store: store}
}

// Insert implements Registry.Insert.
func (r *InMemoryRegistry) Insert(s *Session) error {
	id := s.ID()
	if id == "" {
		return ErrEmptySessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(id); exists {
		return ErrSessionExists
	}
	r.store.SetSession(id, s)
	return nil
}

// Get implements Registry.Get.
func (r *InMemoryRegistry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// Remove implements Registry.Remove.
func (r *InMemoryRegistry) Remove(id SessionID, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.store.GetSession(id)
	if !ok || cur != s {
		return false
	}
	r.store.DeleteSession(id)
	return true
}

// Count implements Registry.Count.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListSessionIDs())
}

// Summaries implements Registry.Summaries.
func (r *InMemoryRegistry) Summaries() []Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0)
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	// Session locks are taken outside r.mu.
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
