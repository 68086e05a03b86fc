package store

import (
	"context"
	"sync"
	"time"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// MemoryBlobStore implements BlobStore using in-memory storage.
// Suitable for development and testing.
type MemoryBlobStore struct {
	config *Config

	mu     sync.RWMutex
	blobs  map[string][]byte
	stats  BlobStats
	closed bool
}

// NewMemoryBlobStore creates a new in-memory blob store.
func NewMemoryBlobStore(config *Config) *MemoryBlobStore {
	if config == nil {
		config = DefaultConfig()
	}

	return &MemoryBlobStore{
		config: config,
		blobs:  make(map[string][]byte),
	}
}

// Put implements BlobStore.Put.
func (m *MemoryBlobStore) Put(ctx context.Context, digest hash.Digest, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if int64(len(data)) > m.config.MaxBlobSize {
		return &StoreError{Op: "put", Err: ErrTooLarge, Digest: digest.String()}
	}

	if !hash.New(data).Equal(digest) {
		return &StoreError{Op: "put", Err: ErrDigestMismatch, Digest: digest.String()}
	}

	key := digest.String()
	if _, exists := m.blobs[key]; !exists {
		m.blobs[key] = append([]byte(nil), data...)
		m.stats.TotalBlobs++
		m.stats.TotalBytes += int64(len(data))
	}
	m.stats.LastAccessed = time.Now()

	return nil
}

// Get implements BlobStore.Get.
func (m *MemoryBlobStore) Get(ctx context.Context, digest hash.Digest) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	data, exists := m.blobs[digest.String()]
	if !exists {
		return nil, &StoreError{Op: "get", Err: ErrNotFound, Digest: digest.String()}
	}

	return append([]byte(nil), data...), nil
}

// Has implements BlobStore.Has.
func (m *MemoryBlobStore) Has(ctx context.Context, digest hash.Digest) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	_, exists := m.blobs[digest.String()]
	return exists, nil
}

// Stats implements BlobStore.Stats.
func (m *MemoryBlobStore) Stats() BlobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// Close implements BlobStore.Close.
func (m *MemoryBlobStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
