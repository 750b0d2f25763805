package history

import (
	"sync"
	"time"
)

// Registry maps session ids to their own Store so concurrent callers never
// see each other's context.
type Registry struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*entry
	groups  map[string]map[string]struct{}
	now     func() time.Time
}

type entry struct {
	store    *Store
	group    string
	lastUsed time.Time
}

// NewRegistry creates a Registry whose stores hold at most limit messages.
func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Registry{
		limit:   limit,
		entries: make(map[string]*entry),
		groups:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Open returns the store for a session, creating it if needed.
func (r *Registry) Open(sessionID string) *Store {
	return r.OpenIn("", sessionID, 0)
}

// OpenIn is Open for a session owned by group. When group already holds max
// sessions and sessionID is new, the group's least recently used session is
// discarded first. A max of zero or less means no cap.
func (r *Registry) OpenIn(group, sessionID string, max int) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.entries[sessionID]; ok {
		e.lastUsed = now
		return e.store
	}

	if group != "" && max > 0 {
		for len(r.groups[group]) >= max {
			r.removeLocked(r.oldestInLocked(group))
		}
	}

	e := &entry{store: New(r.limit), group: group, lastUsed: now}
	r.entries[sessionID] = e
	if group != "" {
		members := r.groups[group]
		if members == nil {
			members = make(map[string]struct{})
			r.groups[group] = members
		}
		members[sessionID] = struct{}{}
	}
	return e.store
}

// Get returns the store for a session if one exists.
func (r *Registry) Get(sessionID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.store, true
}

// Close discards a session's store.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	r.removeLocked(sessionID)
	r.mu.Unlock()
}

// EvictIdle discards every session not used within idle and returns how
// many were removed.
func (r *Registry) EvictIdle(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	n := 0
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			r.removeLocked(id)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// GroupLen returns the number of live sessions owned by group.
func (r *Registry) GroupLen(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups[group])
}

// Limit returns the per-session message limit.
func (r *Registry) Limit() int {
	return r.limit
}

func (r *Registry) oldestInLocked(group string) string {
	var (
		oldestID string
		oldest   time.Time
	)
	for id := range r.groups[group] {
		e := r.entries[id]
		if oldestID == "" || e.lastUsed.Before(oldest) {
			oldestID, oldest = id, e.lastUsed
		}
	}
	return oldestID
}

func (r *Registry) removeLocked(sessionID string) {
	e, ok := r.entries[sessionID]
	if !ok {
		return
	}
	delete(r.entries, sessionID)
	if e.group == "" {
		return
	}
	members := r.groups[e.group]
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.groups, e.group)
	}
}
