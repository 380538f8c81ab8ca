package kv

import (
	"context"
	"sync"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

// MemoryStore keeps values in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryStore) Write(ctx context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, value := range b.Set {
		v := make([]byte, len(value))
		copy(v, value)
		m.data[k] = v
	}
	for _, k := range b.Delete {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
