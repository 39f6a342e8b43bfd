package storage

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/sakif/clipstream/internal/apperror"
)

var _ Store = (*MemoryStore)(nil)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	prefix
}

func NewMemoryStore(urlPrefix string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		prefix:  prefix(urlPrefix),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return m.Ref(key), nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, "", apperror.NotFound("asset", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Has reports whether key is currently stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
