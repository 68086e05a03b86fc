package interfaces

import (
	"context"

	"github.com/ClearlogHQ/clearlog/pkg/types"
)

// RegistryService is the operation surface the transport layer exposes
// over the coordinator.
type RegistryService interface {
	// SubmitPackageRecord submits a signed record to a package log
	SubmitPackageRecord(ctx context.Context, packageID string, req *types.SubmitRecordRequest) (*types.SubmitRecordResponse, error)

	// SubmitOperatorRecord submits a signed record to the operator log
	SubmitOperatorRecord(ctx context.Context, req *types.SubmitRecordRequest) (*types.SubmitRecordResponse, error)

	// FetchRecords returns records of a log bounded by a checkpoint
	FetchRecords(ctx context.Context, req *types.FetchRecordsRequest) (*types.FetchRecordsResponse, error)

	// FetchLeaves returns registry leaves in registry order
	FetchLeaves(ctx context.Context, startingIndex uint64, limit int) (*types.FetchLeavesResponse, error)

	// RecordStatus returns the status of a submitted record
	RecordStatus(ctx context.Context, packageID string, recordID string) (*types.RecordStatusResponse, error)

	// LatestCheckpoint returns the latest signed checkpoint
	LatestCheckpoint(ctx context.Context) (*types.CheckpointWire, error)

	// ProveInclusion produces inclusion proofs against a checkpoint
	ProveInclusion(ctx context.Context, req *types.ProveInclusionRequest) (*types.ProveInclusionResponse, error)

	// ProveConsistency produces a consistency proof between checkpoints
	ProveConsistency(ctx context.Context, req *types.ProveConsistencyRequest) (*types.ProveConsistencyResponse, error)
}

// ContentService is the blob upload/download surface.
type ContentService interface {
	// UploadContent stores content and reports the records it released
	UploadContent(ctx context.Context, digest string, data []byte) (*types.UploadContentResponse, error)

	// DownloadContent retrieves content by digest
	DownloadContent(ctx context.Context, digest string) ([]byte, error)
}

// CheckpointPublisher distributes newly minted checkpoints to
// interested parties. Purely an egress collaborator of the core.
type CheckpointPublisher interface {
	// PublishCheckpoint announces a signed checkpoint
	PublishCheckpoint(ctx context.Context, checkpoint *types.CheckpointWire) error

	// Close cleanly shuts down the publisher
	Close() error
}
