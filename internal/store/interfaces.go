package store

import (
	"context"
	"time"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// BlobStore stores package content addressed by digest.
//
// The registry core only calls Has, when deciding whether a pending
// record's content requirements are satisfied; Put and Get serve the
// upload and download paths.
type BlobStore interface {
	// Put saves content under its digest. The digest is verified
	// against the bytes.
	Put(ctx context.Context, digest hash.Digest, data []byte) error

	// Get retrieves content by digest
	Get(ctx context.Context, digest hash.Digest) ([]byte, error)

	// Has checks whether content with the digest is present
	Has(ctx context.Context, digest hash.Digest) (bool, error)

	// Stats returns storage statistics
	Stats() BlobStats

	// Close cleanly shuts down the store
	Close() error
}

// BlobStats contains storage statistics.
type BlobStats struct {
	TotalBlobs   int64     `json:"total_blobs"`
	TotalBytes   int64     `json:"total_bytes"`
	LastAccessed time.Time `json:"last_accessed"`
}
