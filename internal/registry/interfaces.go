package registry

import (
	"context"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
)

// DataStore persists envelopes, record statuses, sequenced leaves, and
// checkpoints. The coordinator keeps validator and Merkle state in
// memory and replays the store on startup.
type DataStore interface {
	// StoreEnvelope persists a record envelope for a log
	StoreEnvelope(ctx context.Context, logID record.LogID, recordID record.RecordID, envelope *record.Envelope) error

	// Envelope retrieves a stored record envelope
	Envelope(ctx context.Context, logID record.LogID, recordID record.RecordID) (*record.Envelope, error)

	// SetStatus updates the status of a record
	SetStatus(ctx context.Context, logID record.LogID, recordID record.RecordID, status RecordStatus) error

	// Status retrieves the status of a record
	Status(ctx context.Context, logID record.LogID, recordID record.RecordID) (RecordStatus, error)

	// StoreLeaf persists a sequenced registry leaf
	StoreLeaf(ctx context.Context, leaf SequencedLeaf) error

	// LeavesFrom returns up to limit leaves starting at a registry index
	LeavesFrom(ctx context.Context, start uint64, limit int) ([]SequencedLeaf, error)

	// Leaves returns the leaves at exactly the given registry indexes
	Leaves(ctx context.Context, indexes []uint64) ([]SequencedLeaf, error)

	// StoreCheckpoint persists a signed checkpoint keyed by its length
	StoreCheckpoint(ctx context.Context, checkpoint *SignedCheckpoint) error

	// Checkpoint retrieves the checkpoint with the exact length
	Checkpoint(ctx context.Context, length uint64) (*SignedCheckpoint, error)

	// LatestCheckpoint retrieves the checkpoint with the greatest length,
	// or nil when none has been minted
	LatestCheckpoint(ctx context.Context) (*SignedCheckpoint, error)

	// MarkPublishedBelow promotes validated records with registry index
	// below length to published
	MarkPublishedBelow(ctx context.Context, length uint64) error

	// SetPackageID records the package identifier behind a log id
	SetPackageID(ctx context.Context, logID record.LogID, id record.PackageID) error

	// PackageIDs returns every known log id to package identifier mapping
	PackageIDs(ctx context.Context) (map[string]record.PackageID, error)

	// CheckpointLengths returns the lengths of all stored checkpoints
	CheckpointLengths(ctx context.Context) ([]uint64, error)

	// PendingRecords returns every record still awaiting content
	PendingRecords(ctx context.Context) ([]PendingRecord, error)

	// Close cleanly shuts down the store
	Close() error
}

// PendingRecord identifies a stored record awaiting content.
type PendingRecord struct {
	LogID          record.LogID
	RecordID       record.RecordID
	MissingContent []hash.Digest
}
