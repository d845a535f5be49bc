package publish

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"modtool-go/internal/modtool"
)

// MemoryStore is an in-memory object store, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ objectStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// NewMemoryPublisher creates an ObjectPublisher backed by store.
func NewMemoryPublisher(store *MemoryStore, prefix string, logger modtool.Logger) *ObjectPublisher {
	return newObjectPublisher(store, prefix, logger)
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get returns an object's content.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}
