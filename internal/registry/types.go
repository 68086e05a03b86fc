package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// LogLeaf is one entry of the global registry sequence.
type LogLeaf struct {
	// Log the record belongs to
	LogID record.LogID `json:"logId"`

	// The record appended at this position
	RecordID record.RecordID `json:"recordId"`
}

// Bytes returns the canonical leaf content pushed into the Merkle log.
func (l LogLeaf) Bytes() []byte {
	return []byte(l.LogID.String() + " " + l.RecordID.String())
}

// SequencedLeaf is a leaf together with its registry index.
type SequencedLeaf struct {
	RegistryIndex uint64 `json:"registryIndex"`
	LogLeaf
}

// Checkpoint binds a registry prefix to the Merkle log and map roots.
type Checkpoint struct {
	// Exact number of registry leaves the checkpoint commits to
	LogLength uint64

	// Root of the Merkle log at that prefix
	LogRoot hash.Digest

	// Root of the Merkle map after applying every record in the prefix
	MapRoot hash.Digest

	// When the checkpoint was minted
	Timestamp time.Time
}

// checkpointJSON is the canonical encoding of a checkpoint.
type checkpointJSON struct {
	LogLength uint64 `json:"logLength"`
	LogRoot   string `json:"logRoot"`
	MapRoot   string `json:"mapRoot"`
	Timestamp string `json:"timestamp"`
}

// Encode produces the canonical byte form of the checkpoint.
func (c *Checkpoint) Encode() ([]byte, error) {
	return record.CanonicalizeJSON(&checkpointJSON{
		LogLength: c.LogLength,
		LogRoot:   c.LogRoot.String(),
		MapRoot:   c.MapRoot.String(),
		Timestamp: c.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// DecodeCheckpoint decodes the canonical byte form of a checkpoint.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	if err := record.ValidateCanonicalJSON(data); err != nil {
		return nil, err
	}

	var decoded checkpointJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrMalformed, err)
	}

	logRoot, err := hash.ParseDigest(decoded.LogRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: bad log root: %v", record.ErrMalformed, err)
	}

	mapRoot, err := hash.ParseDigest(decoded.MapRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: bad map root: %v", record.ErrMalformed, err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, decoded.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp: %v", record.ErrMalformed, err)
	}

	return &Checkpoint{
		LogLength: decoded.LogLength,
		LogRoot:   logRoot,
		MapRoot:   mapRoot,
		Timestamp: timestamp,
	}, nil
}

// SignCheckpoint encodes and signs a checkpoint with the operator's key.
func SignCheckpoint(signer signing.Signer, c *Checkpoint) (*record.Envelope, error) {
	content, err := c.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	sig, err := signer.Sign(content)
	if err != nil {
		return nil, fmt.Errorf("failed to sign checkpoint: %w", err)
	}

	return &record.Envelope{
		ContentBytes: content,
		KeyID:        signer.KeyID(),
		Signature:    sig,
	}, nil
}

// SignedCheckpoint is a checkpoint together with its signed envelope.
type SignedCheckpoint struct {
	Checkpoint Checkpoint       `json:"checkpoint"`
	Envelope   *record.Envelope `json:"envelope"`
}

// StatusKind tags the lifecycle state of a submitted record.
type StatusKind string

const (
	// StatusPending marks a record awaiting content before validation
	StatusPending StatusKind = "pending"

	// StatusRejected marks a record that failed validation
	StatusRejected StatusKind = "rejected"

	// StatusValidated marks a record accepted and sequenced
	StatusValidated StatusKind = "validated"

	// StatusPublished marks a validated record covered by a checkpoint
	StatusPublished StatusKind = "published"
)

// RecordStatus describes the state of a submitted record.
// Only the fields relevant to the kind are populated.
type RecordStatus struct {
	Kind StatusKind `json:"kind"`

	// Rejection reason, for rejected records
	Reason string `json:"reason,omitempty"`

	// Position in the registry, for validated and published records
	RegistryIndex uint64 `json:"registryIndex,omitempty"`

	// Content digests not yet present, for pending records
	MissingContent []hash.Digest `json:"missingContent,omitempty"`
}
