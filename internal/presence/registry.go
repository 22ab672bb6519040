// Package presence tracks which users hold live connections.
package presence

import (
	"sort"
	"sync"
	"time"

	"convo-service/internal/models"
)

type entry struct {
	handles    map[string]struct{}
	lastSeenAt time.Time
	lastReason string
}

// Registry is the process-wide presence table. It is rebuilt from live
// connections after a restart and never persisted.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]*entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Connect adds handle to the user's handle set and reports whether it is the first one.
func (r *Registry) Connect(userID int64, handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{handles: make(map[string]struct{})}
		r.entries[userID] = e
	}
	first := len(e.handles) == 0
	e.handles[handle] = struct{}{}
	e.lastSeenAt = r.now()
	return first
}

// Disconnect removes handle and reports whether the user has no handle left.
// The reason is kept with lastSeenAt. Removing an unknown handle is a no-op that reports false.
func (r *Registry) Disconnect(userID int64, handle, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	if _, ok := e.handles[handle]; !ok {
		return false
	}
	delete(e.handles, handle)
	e.lastSeenAt = r.now()
	e.lastReason = reason
	return len(e.handles) == 0
}

// Query returns the user's presence.
func (r *Registry) Query(userID int64) models.PresenceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := models.PresenceStatus{UserID: userID}
	if e, ok := r.entries[userID]; ok {
		status.IsOnline = len(e.handles) > 0
		status.LastSeenAt = e.lastSeenAt
		if !status.IsOnline {
			status.LastDisconnectReason = e.lastReason
		}
	}
	return status
}

// OnlineUsers lists users holding at least one handle.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []int64
	for id, e := range r.entries {
		if len(e.handles) > 0 {
			users = append(users, id)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Close drops every entry. Called once on shutdown after connections are closed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[int64]*entry)
}
