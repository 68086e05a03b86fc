package types

import (
	"time"
)

// EnvelopeWire is the wire form of a signed record envelope.
// Content bytes travel base64-encoded; the signature covers exactly the
// decoded bytes, so the envelope is emitted to clients unchanged.
type EnvelopeWire struct {
	ContentBytes []byte `json:"contentBytes" validate:"required"`
	KeyID        string `json:"keyId" validate:"required"`
	Signature    string `json:"signature" validate:"required"`
}

// CheckpointWire is the wire form of a signed checkpoint: the checkpoint
// body plus the envelope binding the operator signature to it.
type CheckpointWire struct {
	LogLength uint64       `json:"logLength"`
	LogRoot   string       `json:"logRoot" validate:"required,digest"`
	MapRoot   string       `json:"mapRoot" validate:"required,digest"`
	Timestamp time.Time    `json:"timestamp" validate:"required"`
	Envelope  EnvelopeWire `json:"envelope" validate:"required"`
}

// SubmitRecordRequest submits a signed record to a log.
type SubmitRecordRequest struct {
	Envelope EnvelopeWire `json:"envelope" validate:"required"`
}

// SubmitRecordResponse reports the outcome of a submission.
type SubmitRecordResponse struct {
	RecordID string `json:"recordId"`
	Status   string `json:"status"`

	// Rejection reason, when status is "rejected"
	Reason string `json:"reason,omitempty"`

	// Content digests still missing, when status is "pending"
	MissingContent []string `json:"missingContent,omitempty"`

	// Registry index, when status is "validated" or "published"
	RegistryIndex uint64 `json:"registryIndex,omitempty"`
}

// FetchRecordsRequest fetches the records of a log bounded by a checkpoint.
type FetchRecordsRequest struct {
	PackageID string `json:"packageId,omitempty" validate:"omitempty,packageid"`

	// Record id to resume after, if any
	Since string `json:"since,omitempty" validate:"omitempty,digest"`

	// Registry length of the bounding checkpoint
	MaxRegistryLength uint64 `json:"maxRegistryLength" validate:"required"`

	Limit int `json:"limit,omitempty" validate:"min=0,max=1000"`
}

// FetchRecordsResponse carries the fetched record envelopes in log order.
type FetchRecordsResponse struct {
	Records []EnvelopeWire `json:"records"`
}

// LeafWire is one sequenced registry leaf.
type LeafWire struct {
	RegistryIndex uint64 `json:"registryIndex"`
	LogID         string `json:"logId"`
	RecordID      string `json:"recordId"`
}

// FetchLeavesResponse carries registry leaves in registry order.
type FetchLeavesResponse struct {
	Leaves []LeafWire `json:"leaves"`
}

// ProveInclusionRequest asks for inclusion proofs binding leaves to a
// checkpoint.
type ProveInclusionRequest struct {
	CheckpointLength uint64    `json:"checkpointLength" validate:"required"`
	Leaves           []LeafRef `json:"leaves" validate:"required,min=1,dive"`
}

// LeafRef identifies a leaf by log and record.
type LeafRef struct {
	LogID    string `json:"logId" validate:"required,digest"`
	RecordID string `json:"recordId" validate:"required,digest"`
}

// ProveInclusionResponse carries one log proof and one map proof per
// requested leaf, as opaque deterministic bundles.
type ProveInclusionResponse struct {
	CheckpointLength uint64   `json:"checkpointLength"`
	LogProofs        [][]byte `json:"logProofs"`
	MapProofs        [][]byte `json:"mapProofs"`
}

// ProveConsistencyRequest asks for the consistency proof between two
// checkpointed registry lengths.
type ProveConsistencyRequest struct {
	OldLength uint64 `json:"oldLength"`
	NewLength uint64 `json:"newLength" validate:"required"`
}

// ProveConsistencyResponse carries the opaque consistency proof bundle.
type ProveConsistencyResponse struct {
	Proof []byte `json:"proof"`
}

// RecordStatusResponse reports the status of a submitted record.
type RecordStatusResponse struct {
	RecordID       string   `json:"recordId"`
	Status         string   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	RegistryIndex  uint64   `json:"registryIndex,omitempty"`
	MissingContent []string `json:"missingContent,omitempty"`
}

// UploadContentResponse reports a stored blob and the records its
// arrival released for validation.
type UploadContentResponse struct {
	Digest           string   `json:"digest"`
	CommittedRecords []string `json:"committedRecords,omitempty"`
}

// ErrorResponse is the machine-readable error body.
type ErrorResponse struct {
	// Error taxonomy code ("malformed", "validation", "not-found",
	// "conflict", "content-missing", "transient")
	Code string `json:"code"`

	// Short machine-readable reason
	Message string `json:"message"`

	// Human-readable detail
	Detail string `json:"detail,omitempty"`
}
