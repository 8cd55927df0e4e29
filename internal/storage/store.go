package storage

import (
	"sync"

	"github.com/dreamware/strata/internal/document"
)

// Store is the node-local document store backing a shard's partition of each
// collection. All implementations must be thread-safe for concurrent access.
type Store interface {
	// Insert appends documents to a collection, creating it on first use.
	Insert(collection string, docs ...document.Doc) error

	// Scan returns every document in a collection. Unknown collections scan
	// as empty. Order is insertion order.
	Scan(collection string) []document.Doc

	// Replace swaps a collection's entire contents, the semantic $out needs.
	Replace(collection string, docs []document.Doc) error

	// Collections returns all collection names. Order is not guaranteed.
	Collections() []string

	// Stats returns storage statistics.
	Stats() StoreStats
}

// StoreStats contains statistics about the store.
type StoreStats struct {
	Collections int // Number of collections
	Documents   int // Total documents across collections
}

// MemoryStore implements Store with in-memory collections.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]document.Doc
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]document.Doc),
	}
}

// Insert appends documents to a collection.
// Stores copies so later caller mutation doesn't leak in.
func (m *MemoryStore) Insert(collection string, docs ...document.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range docs {
		m.data[collection] = append(m.data[collection], d.Clone())
	}
	return nil
}

// Scan returns every document in a collection.
// Returns copies to prevent external modification.
func (m *MemoryStore) Scan(collection string) []document.Doc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.data[collection]
	out := make([]document.Doc, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

// Replace swaps a collection's contents atomically.
func (m *MemoryStore) Replace(collection string, docs []document.Doc) error {
	copied := make([]document.Doc, len(docs))
	for i, d := range docs {
		copied[i] = d.Clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[collection] = copied
	return nil
}

// Collections returns all collection names.
func (m *MemoryStore) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	return names
}

// Stats returns storage statistics.
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, docs := range m.data {
		total += len(docs)
	}
	return StoreStats{
		Collections: len(m.data),
		Documents:   total,
	}
}
