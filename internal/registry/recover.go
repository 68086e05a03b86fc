package registry

import (
	"context"
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/record"
)

// Recover rebuilds the coordinator's in-memory state from the data
// store: validator states, Merkle structures, registry indexes, map
// snapshots at checkpointed lengths, and the pending-content index.
//
// Called once before Start on a coordinator backed by a durable store.
func (c *Coordinator) Recover(ctx context.Context) error {
	packageIDs, err := c.data.PackageIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load package ids: %w", err)
	}

	lengths, err := c.data.CheckpointLengths(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint lengths: %w", err)
	}
	checkpointed := make(map[uint64]bool, len(lengths))
	for _, length := range lengths {
		checkpointed[length] = true
	}

	leaves, err := c.data.LeavesFrom(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to load leaves: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if checkpointed[0] {
		c.mapSnapshots[0] = c.merkleMap
	}

	operatorLogID := record.OperatorLogID()

	for _, leaf := range leaves {
		envelope, err := c.data.Envelope(ctx, leaf.LogID, leaf.RecordID)
		if err != nil {
			return fmt.Errorf("failed to load record %s: %w", leaf.RecordID, err)
		}

		// Records in the store were validated before being sequenced,
		// so replay failures mean a corrupted store
		if leaf.LogID.Equal(operatorLogID) {
			if err := c.operator.Validate(envelope); err != nil {
				return fmt.Errorf("replay of operator record %s failed: %w", leaf.RecordID, err)
			}
		} else {
			id, ok := packageIDs[leaf.LogID.String()]
			if !ok {
				return fmt.Errorf("%w: no package id for %s", ErrLogNotFound, leaf.LogID)
			}
			if err := c.packageState(id).Validate(envelope); err != nil {
				return fmt.Errorf("replay of package record %s failed: %w", leaf.RecordID, err)
			}
		}

		c.merkleLog.Push(leaf.Bytes())
		c.merkleMap, _ = c.merkleMap.Insert([]byte(leaf.LogID.String()), []byte(leaf.RecordID.String()))
		c.logEntries[leaf.LogID.String()] = append(c.logEntries[leaf.LogID.String()], leaf.RecordID)
		c.recordIndex[leaf.RecordID.String()] = leaf.RegistryIndex

		if checkpointed[c.merkleLog.Length()] {
			c.mapSnapshots[c.merkleLog.Length()] = c.merkleMap
		}
	}

	// Rebuild the pending-content index
	pending, err := c.data.PendingRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending records: %w", err)
	}

	for _, p := range pending {
		if id, ok := packageIDs[p.LogID.String()]; ok {
			c.logMu.Lock()
			c.packageIDs[p.LogID.String()] = id
			c.logMu.Unlock()
		}
		for _, digest := range p.MissingContent {
			c.pendingByDigest[digest.String()] = append(c.pendingByDigest[digest.String()],
				pendingRef{logID: p.LogID, recordID: p.RecordID})
		}
	}

	return nil
}
