package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory.
// Sessions are stored as JSON so callers never share maps with the store, and answers
// come back with the same types a RedisStore would return.
type MemoryStore struct {
	sessions map[string][]byte
	revision map[string]int64
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		revision: make(map[string]int64),
	}
}

// Save stores s if the stored revision is still prev
func (m *MemoryStore) Save(ctx context.Context, s *Session, prev int64) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.revision[s.ID]
	if (!exists && prev != 0) || (exists && current != prev) {
		return fmt.Errorf("session %s at revision %d: %w", s.ID, prev, ErrStaleRevision)
	}

	m.sessions[s.ID] = data
	m.revision[s.ID] = s.Revision
	return nil
}

// Load returns a copy of the stored session
func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	data, exists := m.sessions[id]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Delete removes a session
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	delete(m.revision, id)
	return nil
}

// List returns every session id in sorted order
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
