package remote

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe in-process Store that records every call.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]json.RawMessage
	upserts int
	deletes int
	pings   int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]json.RawMessage)}
}

func (m *MemoryStore) Upsert(ctx context.Context, collection, id string, body json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return Transient("upsert", collection, id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	coll, ok := m.records[collection]
	if !ok {
		coll = make(map[string]json.RawMessage)
		m.records[collection] = coll
	}
	coll[id] = append(json.RawMessage(nil), body...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return Transient("delete", collection, id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.records[collection], id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Transient("ping", "", "", err)
	}
	return nil
}

// Get returns the stored body of collection/id.
func (m *MemoryStore) Get(collection, id string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.records[collection][id]
	return body, ok
}

// IDs returns the sorted ids stored in collection.
func (m *MemoryStore) IDs(collection string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records[collection]))
	for id := range m.records[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Calls returns the number of Upsert and Delete calls received.
func (m *MemoryStore) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts + m.deletes
}

// Upserts returns the number of Upsert calls received.
func (m *MemoryStore) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}
