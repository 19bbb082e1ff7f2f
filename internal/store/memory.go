package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process DocumentStore used for local mode and tests.
// Writes are serialized under one mutex, so concurrent saves resolve in the
// order the store receives them (last writer wins), matching the remote
// store's behavior.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]interface{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.collections[collection][id]
	if !ok {
		return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: ErrNotFound}
	}
	return &Document{ID: id, Fields: copyFields(fields)}, nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]map[string]interface{})
		m.collections[collection] = docs
	}

	if merge {
		existing := docs[id]
		if existing == nil {
			existing = make(map[string]interface{})
		}
		merged := copyFields(existing)
		for k, v := range fields {
			merged[k] = v
		}
		docs[id] = merged
		return nil
	}

	docs[id] = copyFields(fields)
	return nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := m.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, collection, field string, equals interface{}) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []Document
	for id, fields := range m.collections[collection] {
		if fields[field] == equals {
			results = append(results, Document{ID: id, Fields: copyFields(fields)})
		}
	}
	return results, nil
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []Document
	for id, fields := range m.collections[collection] {
		results = append(results, Document{ID: id, Fields: copyFields(fields)})
	}
	return results, nil
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
