package api

import (
	"context"
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/registry"
	"github.com/ClearlogHQ/clearlog/internal/signing"
	"github.com/ClearlogHQ/clearlog/internal/store"
	"github.com/ClearlogHQ/clearlog/pkg/types"
)

// Service shapes coordinator operations into the wire types.
// It implements interfaces.RegistryService and interfaces.ContentService.
type Service struct {
	coordinator *registry.Coordinator
	blobs       store.BlobStore
}

// NewService creates an API service over a coordinator and blob store.
func NewService(coordinator *registry.Coordinator, blobs store.BlobStore) *Service {
	return &Service{coordinator: coordinator, blobs: blobs}
}

// envelopeFromWire converts a wire envelope to the internal form.
func envelopeFromWire(wire *types.EnvelopeWire) (*record.Envelope, error) {
	sig, err := signing.ParseSignature(wire.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	return &record.Envelope{
		ContentBytes: wire.ContentBytes,
		KeyID:        signing.KeyID(wire.KeyID),
		Signature:    sig,
	}, nil
}

// envelopeToWire converts an internal envelope to the wire form,
// preserving the content bytes exactly.
func envelopeToWire(envelope *record.Envelope) types.EnvelopeWire {
	return types.EnvelopeWire{
		ContentBytes: envelope.ContentBytes,
		KeyID:        string(envelope.KeyID),
		Signature:    envelope.Signature.String(),
	}
}

// submitResponse converts a submit result to the wire form.
func submitResponse(result *registry.SubmitResult) *types.SubmitRecordResponse {
	resp := &types.SubmitRecordResponse{
		RecordID: result.RecordID.String(),
		Status:   string(result.Status.Kind),
	}

	switch result.Status.Kind {
	case registry.StatusRejected:
		resp.Reason = result.Status.Reason
	case registry.StatusPending:
		for _, digest := range result.Status.MissingContent {
			resp.MissingContent = append(resp.MissingContent, digest.String())
		}
	case registry.StatusValidated, registry.StatusPublished:
		resp.RegistryIndex = result.Status.RegistryIndex
	}

	return resp
}

// SubmitPackageRecord implements RegistryService.SubmitPackageRecord.
func (s *Service) SubmitPackageRecord(ctx context.Context, packageID string, req *types.SubmitRecordRequest) (*types.SubmitRecordResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	// Invalid identifiers are rejected at the system boundary
	id, err := record.ParsePackageID(packageID)
	if err != nil {
		return nil, err
	}

	envelope, err := envelopeFromWire(&req.Envelope)
	if err != nil {
		return nil, err
	}

	result, err := s.coordinator.SubmitPackageRecord(ctx, id, envelope)
	if result != nil {
		// Rejections still produce a response body alongside the error
		return submitResponse(result), err
	}
	return nil, err
}

// SubmitOperatorRecord implements RegistryService.SubmitOperatorRecord.
func (s *Service) SubmitOperatorRecord(ctx context.Context, req *types.SubmitRecordRequest) (*types.SubmitRecordResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	envelope, err := envelopeFromWire(&req.Envelope)
	if err != nil {
		return nil, err
	}

	result, err := s.coordinator.SubmitOperatorRecord(ctx, envelope)
	if result != nil {
		return submitResponse(result), err
	}
	return nil, err
}

// logIDForRequest resolves the log id of a fetch: the operator log when
// no package id is given.
func logIDForRequest(packageID string) (record.LogID, error) {
	if packageID == "" {
		return record.OperatorLogID(), nil
	}

	id, err := record.ParsePackageID(packageID)
	if err != nil {
		return record.LogID{}, err
	}
	return id.LogID(), nil
}

// FetchRecords implements RegistryService.FetchRecords.
func (s *Service) FetchRecords(ctx context.Context, req *types.FetchRecordsRequest) (*types.FetchRecordsResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	logID, err := logIDForRequest(req.PackageID)
	if err != nil {
		return nil, err
	}

	var since *record.RecordID
	if req.Since != "" {
		parsed, err := hash.ParseDigest(req.Since)
		if err != nil {
			return nil, err
		}
		since = &parsed
	}

	envelopes, err := s.coordinator.FetchRecords(ctx, logID, since, req.MaxRegistryLength, req.Limit)
	if err != nil {
		return nil, err
	}

	resp := &types.FetchRecordsResponse{Records: make([]types.EnvelopeWire, 0, len(envelopes))}
	for _, envelope := range envelopes {
		resp.Records = append(resp.Records, envelopeToWire(envelope))
	}

	return resp, nil
}

// FetchLeaves implements RegistryService.FetchLeaves.
func (s *Service) FetchLeaves(ctx context.Context, startingIndex uint64, limit int) (*types.FetchLeavesResponse, error) {
	leaves, err := s.coordinator.FetchLeaves(ctx, startingIndex, limit)
	if err != nil {
		return nil, err
	}

	resp := &types.FetchLeavesResponse{Leaves: make([]types.LeafWire, 0, len(leaves))}
	for _, leaf := range leaves {
		resp.Leaves = append(resp.Leaves, types.LeafWire{
			RegistryIndex: leaf.RegistryIndex,
			LogID:         leaf.LogID.String(),
			RecordID:      leaf.RecordID.String(),
		})
	}

	return resp, nil
}

// RecordStatus implements RegistryService.RecordStatus.
func (s *Service) RecordStatus(ctx context.Context, packageID string, recordID string) (*types.RecordStatusResponse, error) {
	logID, err := logIDForRequest(packageID)
	if err != nil {
		return nil, err
	}

	id, err := hash.ParseDigest(recordID)
	if err != nil {
		return nil, err
	}

	status, err := s.coordinator.RecordStatus(ctx, logID, id)
	if err != nil {
		return nil, err
	}

	resp := &types.RecordStatusResponse{
		RecordID:      recordID,
		Status:        string(status.Kind),
		Reason:        status.Reason,
		RegistryIndex: status.RegistryIndex,
	}
	for _, digest := range status.MissingContent {
		resp.MissingContent = append(resp.MissingContent, digest.String())
	}

	return resp, nil
}

// checkpointToWire converts a signed checkpoint to the wire form.
func checkpointToWire(signed *registry.SignedCheckpoint) *types.CheckpointWire {
	return &types.CheckpointWire{
		LogLength: signed.Checkpoint.LogLength,
		LogRoot:   signed.Checkpoint.LogRoot.String(),
		MapRoot:   signed.Checkpoint.MapRoot.String(),
		Timestamp: signed.Checkpoint.Timestamp,
		Envelope:  envelopeToWire(signed.Envelope),
	}
}

// LatestCheckpoint implements RegistryService.LatestCheckpoint.
func (s *Service) LatestCheckpoint(ctx context.Context) (*types.CheckpointWire, error) {
	signed, err := s.coordinator.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	return checkpointToWire(signed), nil
}

// MintCheckpoint mints a checkpoint explicitly.
func (s *Service) MintCheckpoint(ctx context.Context) (*types.CheckpointWire, error) {
	signed, err := s.coordinator.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}

	return checkpointToWire(signed), nil
}

// ProveInclusion implements RegistryService.ProveInclusion.
func (s *Service) ProveInclusion(ctx context.Context, req *types.ProveInclusionRequest) (*types.ProveInclusionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	leaves := make([]registry.LogLeaf, 0, len(req.Leaves))
	for _, ref := range req.Leaves {
		logID, err := hash.ParseDigest(ref.LogID)
		if err != nil {
			return nil, err
		}
		recordID, err := hash.ParseDigest(ref.RecordID)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, registry.LogLeaf{LogID: logID, RecordID: recordID})
	}

	proofs, err := s.coordinator.ProveInclusion(ctx, req.CheckpointLength, leaves)
	if err != nil {
		return nil, err
	}

	return &types.ProveInclusionResponse{
		CheckpointLength: proofs.CheckpointLength,
		LogProofs:        proofs.LogProofs,
		MapProofs:        proofs.MapProofs,
	}, nil
}

// ProveConsistency implements RegistryService.ProveConsistency.
func (s *Service) ProveConsistency(ctx context.Context, req *types.ProveConsistencyRequest) (*types.ProveConsistencyResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	proof, err := s.coordinator.ProveConsistency(ctx, req.OldLength, req.NewLength)
	if err != nil {
		return nil, err
	}

	return &types.ProveConsistencyResponse{Proof: proof}, nil
}

// UploadContent implements ContentService.UploadContent.
func (s *Service) UploadContent(ctx context.Context, digest string, data []byte) (*types.UploadContentResponse, error) {
	parsed, err := hash.ParseDigest(digest)
	if err != nil {
		return nil, err
	}

	if err := s.blobs.Put(ctx, parsed, data); err != nil {
		return nil, err
	}

	committed, err := s.coordinator.ContentPresent(ctx, parsed)
	if err != nil {
		return nil, err
	}

	resp := &types.UploadContentResponse{Digest: digest}
	for _, id := range committed {
		resp.CommittedRecords = append(resp.CommittedRecords, id.String())
	}

	return resp, nil
}

// DownloadContent implements ContentService.DownloadContent.
func (s *Service) DownloadContent(ctx context.Context, digest string) ([]byte, error) {
	parsed, err := hash.ParseDigest(digest)
	if err != nil {
		return nil, err
	}

	return s.blobs.Get(ctx, parsed)
}
