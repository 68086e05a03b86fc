package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// FilesystemBlobStore implements BlobStore using filesystem storage.
// Blobs are stored under their CIDv1 name, sharded by the leading
// characters of the CID.
type FilesystemBlobStore struct {
	config   *Config
	basePath string

	// Metadata for statistics
	meta     *fsMetadata
	metaFile string

	mu     sync.RWMutex
	closed bool
}

// fsMetadata tracks filesystem store metadata.
type fsMetadata struct {
	TotalBlobs   int64     `json:"total_blobs"`
	TotalBytes   int64     `json:"total_bytes"`
	LastAccessed time.Time `json:"last_accessed"`
}

// NewFilesystemBlobStore creates a new filesystem-based blob store.
func NewFilesystemBlobStore(config *Config) (*FilesystemBlobStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.FSPath, 0755); err != nil {
		return nil, &StoreError{Op: "mkdir", Err: err, Path: config.FSPath}
	}

	s := &FilesystemBlobStore{
		config:   config,
		basePath: config.FSPath,
		metaFile: filepath.Join(config.FSPath, ".metadata.json"),
		meta:     &fsMetadata{},
	}

	if err := s.loadMetadata(); err != nil {
		return nil, err
	}

	return s, nil
}

// loadMetadata loads or initializes metadata.
func (f *FilesystemBlobStore) loadMetadata() error {
	data, err := os.ReadFile(f.metaFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StoreError{Op: "load_metadata", Err: err, Path: f.metaFile}
	}

	if err := json.Unmarshal(data, f.meta); err != nil {
		// Corrupted metadata starts over; blobs themselves are intact
		f.meta = &fsMetadata{}
	}

	return nil
}

// saveMetadata saves metadata to disk.
func (f *FilesystemBlobStore) saveMetadata() error {
	data, err := json.MarshalIndent(f.meta, "", "  ")
	if err != nil {
		return &StoreError{Op: "marshal_metadata", Err: err}
	}

	return os.WriteFile(f.metaFile, data, 0644)
}

// blobPath returns the on-disk path for a digest: the CID name sharded
// by its two leading characters.
func (f *FilesystemBlobStore) blobPath(digest hash.Digest) (string, error) {
	c, err := hash.DigestCID(digest)
	if err != nil {
		return "", &StoreError{Op: "cid", Err: err, Digest: digest.String()}
	}

	name := c.String()
	return filepath.Join(f.basePath, name[:2], name), nil
}

// Put implements BlobStore.Put.
func (f *FilesystemBlobStore) Put(ctx context.Context, digest hash.Digest, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	if int64(len(data)) > f.config.MaxBlobSize {
		return &StoreError{Op: "put", Err: ErrTooLarge, Digest: digest.String()}
	}

	if f.config.MaxTotalSize > 0 && f.meta.TotalBytes+int64(len(data)) > f.config.MaxTotalSize {
		return &StoreError{Op: "put", Err: ErrTooLarge, Digest: digest.String()}
	}

	if !hash.New(data).Equal(digest) {
		return &StoreError{Op: "put", Err: ErrDigestMismatch, Digest: digest.String()}
	}

	path, err := f.blobPath(digest)
	if err != nil {
		return err
	}

	// Content addressing makes duplicate writes no-ops
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &StoreError{Op: "mkdir", Err: err, Path: filepath.Dir(path)}
	}

	// Write to a temp file and rename for atomicity
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &StoreError{Op: "put", Err: err, Digest: digest.String()}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &StoreError{Op: "put", Err: err, Digest: digest.String()}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &StoreError{Op: "put", Err: err, Digest: digest.String()}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &StoreError{Op: "put", Err: err, Digest: digest.String()}
	}

	f.meta.TotalBlobs++
	f.meta.TotalBytes += int64(len(data))
	f.meta.LastAccessed = time.Now()
	return f.saveMetadata()
}

// Get implements BlobStore.Get.
func (f *FilesystemBlobStore) Get(ctx context.Context, digest hash.Digest) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}

	path, err := f.blobPath(digest)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StoreError{Op: "get", Err: ErrNotFound, Digest: digest.String()}
		}
		return nil, &StoreError{Op: "get", Err: err, Digest: digest.String()}
	}

	return data, nil
}

// Has implements BlobStore.Has.
func (f *FilesystemBlobStore) Has(ctx context.Context, digest hash.Digest) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return false, ErrClosed
	}

	path, err := f.blobPath(digest)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &StoreError{Op: "has", Err: err, Digest: digest.String()}
	}

	return true, nil
}

// Stats implements BlobStore.Stats.
func (f *FilesystemBlobStore) Stats() BlobStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return BlobStats{
		TotalBlobs:   f.meta.TotalBlobs,
		TotalBytes:   f.meta.TotalBytes,
		LastAccessed: f.meta.LastAccessed,
	}
}

// Close implements BlobStore.Close.
func (f *FilesystemBlobStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true
	return f.saveMetadata()
}
