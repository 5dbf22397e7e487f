package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stoik/aide/internal/models"
)

var _ KV = (*Memory)(nil)

// Memory is an in-process KV for tests and throwaway runs.
type Memory struct {
	mu   sync.RWMutex
	data map[Bucket]map[models.Key][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[Bucket]map[models.Key][]byte)}
}

func (m *Memory) Get(ctx context.Context, bucket Bucket, key models.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(ctx context.Context, bucket Bucket, key models.Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[bucket]
	if !ok {
		b = make(map[models.Key][]byte)
		m.data[bucket] = b
	}
	b[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, bucket Bucket, key models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[bucket], key)
	return nil
}

// List returns values ordered by key so results are stable.
func (m *Memory) List(ctx context.Context, bucket Bucket) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]models.Key, 0, len(m.data[bucket]))
	for k := range m.data[bucket] {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, append([]byte(nil), m.data[bucket][k]...))
	}
	return out, nil
}
