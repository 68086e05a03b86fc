package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrLogNotFound indicates an unknown log id
	ErrLogNotFound = errors.New("log not found")

	// ErrRecordNotFound indicates an unknown record id
	ErrRecordNotFound = errors.New("record not found")

	// ErrCheckpointNotFound indicates a length with no recorded checkpoint
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointNotMonotonic indicates a checkpoint of length not
	// exceeding the latest
	ErrCheckpointNotMonotonic = errors.New("checkpoint length does not exceed the latest checkpoint")

	// ErrLeafNotCommitted indicates a leaf whose registry index is not
	// covered by the checkpoint length
	ErrLeafNotCommitted = errors.New("leaf is not committed by the checkpoint")

	// ErrContentMissing indicates a record waiting on absent content
	ErrContentMissing = errors.New("record content is not yet present")

	// ErrRecordNotPending indicates a record operation valid only for
	// pending records
	ErrRecordNotPending = errors.New("record is not pending")

	// ErrNoOperatorKey indicates the coordinator has no signing key that
	// may commit checkpoints
	ErrNoOperatorKey = errors.New("no operator key with commit permission")

	// ErrShutdown indicates the coordinator has been shut down
	ErrShutdown = errors.New("coordinator is shut down")
)

// RejectedError reproduces the stored rejection of a record. Rejections
// are durable: resubmitting identical bytes returns the same error.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("record rejected: %s", e.Reason)
}
