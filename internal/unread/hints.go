package unread

import (
	"context"
	"sync"
)

// HintStore keeps the optimistic per-(conversation, user) counters.
// Values may drift from the store and are corrected by Counter.Recount.
type HintStore interface {
	Incr(ctx context.Context, userID, conversationID int64, delta int) (int, error)
	Set(ctx context.Context, userID, conversationID int64, value int) error
	Get(ctx context.Context, userID, conversationID int64) (int, bool, error)
	All(ctx context.Context, userID int64) (map[int64]int, error)
	Reset(ctx context.Context, userID int64) error
}

// MemoryHints is a process-local HintStore.
type MemoryHints struct {
	mu     sync.Mutex
	counts map[int64]map[int64]int
}

// NewMemoryHints creates an empty MemoryHints.
func NewMemoryHints() *MemoryHints {
	return &MemoryHints{counts: make(map[int64]map[int64]int)}
}

func (m *MemoryHints) Incr(_ context.Context, userID, conversationID int64, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perUser, ok := m.counts[userID]
	if !ok {
		perUser = make(map[int64]int)
		m.counts[userID] = perUser
	}
	perUser[conversationID] = clamp(perUser[conversationID] + delta)
	return perUser[conversationID], nil
}

func (m *MemoryHints) Set(_ context.Context, userID, conversationID int64, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	perUser, ok := m.counts[userID]
	if !ok {
		perUser = make(map[int64]int)
		m.counts[userID] = perUser
	}
	perUser[conversationID] = clamp(value)
	return nil
}

func (m *MemoryHints) Get(_ context.Context, userID, conversationID int64) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.counts[userID][conversationID]
	return v, ok, nil
}

func (m *MemoryHints) All(_ context.Context, userID int64) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]int, len(m.counts[userID]))
	for k, v := range m.counts[userID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryHints) Reset(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, userID)
	return nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
