package memory

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/photoclub/photocore/pkg/photocore"
)

// Backend is an in-memory implementation of the photocore.BlobStore
// interface, intended for tests.
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string][]byte),
	}
}

// Get materializes the object as a temporary file and returns its path
func (b *Backend) Get(ctx context.Context, key string) (string, error) {
	b.mu.RLock()
	data, exists := b.objects[key]
	b.mu.RUnlock()
	if !exists {
		return "", &photocore.StorageError{Backend: "memory", Key: key, Op: "get", Err: photocore.ErrObjectNotFound}
	}

	tmp, err := os.CreateTemp("", "memory-object-*")
	if err != nil {
		return "", &photocore.StorageError{Backend: "memory", Key: key, Op: "get", Err: err}
	}
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		os.Remove(tmp.Name())
		return "", &photocore.StorageError{Backend: "memory", Key: key, Op: "get", Err: err}
	}
	return tmp.Name(), nil
}

// Put stores the file at localPath under the given key
func (b *Backend) Put(ctx context.Context, key string, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &photocore.StorageError{Backend: "memory", Key: key, Op: "put", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

// Delete removes the object; a missing key is a no-op
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// DeleteAll removes every object under the given key prefix
func (b *Backend) DeleteAll(ctx context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			delete(b.objects, key)
		}
	}
	return nil
}

// Exists reports whether an object is stored under the key
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[key]
	return exists, nil
}

// PublicURL returns a synthetic URL for a key
func (b *Backend) PublicURL(key string) string {
	return "memory://" + strings.TrimPrefix(key, "/")
}

// PutBytes stores raw bytes directly, bypassing the file round trip.
// Test helper.
func (b *Backend) PutBytes(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
}

// Keys returns all stored keys. Test helper.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	return keys
}
