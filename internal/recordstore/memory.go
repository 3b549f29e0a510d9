package recordstore

import (
	"context"
	"sync"

	"github.com/kindlyrobotics/meshsync/internal/record"
)

// MemoryStore is an in-process Store used by tests and by nodes that
// don't need durability (e.g. ephemeral integration tests of the
// orchestrator and sync protocol).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]record.Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record.Record)}
}

// PutBatch stores every record. The in-memory map assignment is
// already atomic with respect to readers holding the mutex, so the
// whole batch is applied under a single critical section.
func (m *MemoryStore) PutBatch(_ context.Context, records map[string]record.Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range records {
		m.records[id] = rec
	}
	return nil
}

// GetAll returns a defensive copy of every stored record.
func (m *MemoryStore) GetAll(_ context.Context) (map[string]record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]record.Record, len(m.records))
	for id, rec := range m.records {
		out[id] = rec
	}
	return out, nil
}

// Delete removes a single record by uuid.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Clear removes every record.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]record.Record)
	return nil
}
