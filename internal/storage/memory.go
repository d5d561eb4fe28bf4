package storage

import (
	"context"
	"sort"
	"sync"
)

// Object is one stored payload.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore is an in-process ObjectStore for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	base    string
	objects map[string]Object
	puts    map[string]int

	// Fail returns an error for a key on a given attempt (1-based), or nil.
	Fail func(key string, attempt int) error
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{base: baseURL, objects: make(map[string]Object), puts: make(map[string]int)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.puts[key]++
	attempt := m.puts[key]
	fail := m.Fail
	m.mu.Unlock()

	if fail != nil {
		if err := fail(key, attempt); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return m.URL(key), nil
}

func (m *MemoryStore) URL(key string) string {
	return m.base + "/" + key
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Keys returns all stored keys, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attempts returns how many times key was written, including failures.
func (m *MemoryStore) Attempts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[key]
}
