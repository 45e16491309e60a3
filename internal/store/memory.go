package store

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Repository used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]string
	runs     []RunRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[string]string)}
}

func (m *MemoryStore) GetBrowserContext(_ context.Context, conversationID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.contexts[conversationID]
	if !ok || id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) SetBrowserContext(_ context.Context, conversationID, contextID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[conversationID] = contextID
	return nil
}

func (m *MemoryStore) RecordRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

// Runs returns a copy of the recorded run summaries.
func (m *MemoryStore) Runs() []RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RunRecord(nil), m.runs...)
}
