package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
)

// MemoryDataStore is an in-memory DataStore.
//
// Data is not persisted between restarts. It shares a single lock for
// all operations, which is fine for its intended use in development,
// testing, and small deployments.
type MemoryDataStore struct {
	mu sync.RWMutex

	envelopes   map[string]map[string]*record.Envelope
	statuses    map[string]map[string]RecordStatus
	leaves      []SequencedLeaf
	checkpoints map[uint64]*SignedCheckpoint
	latest      *SignedCheckpoint
	packageIDs  map[string]record.PackageID
}

// NewMemoryDataStore creates an empty in-memory data store.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{
		envelopes:   make(map[string]map[string]*record.Envelope),
		statuses:    make(map[string]map[string]RecordStatus),
		checkpoints: make(map[uint64]*SignedCheckpoint),
		packageIDs:  make(map[string]record.PackageID),
	}
}

// StoreEnvelope implements DataStore.StoreEnvelope.
func (m *MemoryDataStore) StoreEnvelope(ctx context.Context, logID record.LogID, recordID record.RecordID, envelope *record.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.envelopes[logID.String()]
	if log == nil {
		log = make(map[string]*record.Envelope)
		m.envelopes[logID.String()] = log
	}
	log[recordID.String()] = envelope

	return nil
}

// Envelope implements DataStore.Envelope.
func (m *MemoryDataStore) Envelope(ctx context.Context, logID record.LogID, recordID record.RecordID) (*record.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.envelopes[logID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, logID)
	}

	envelope, ok := log[recordID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	return envelope, nil
}

// SetStatus implements DataStore.SetStatus.
func (m *MemoryDataStore) SetStatus(ctx context.Context, logID record.LogID, recordID record.RecordID, status RecordStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.statuses[logID.String()]
	if log == nil {
		log = make(map[string]RecordStatus)
		m.statuses[logID.String()] = log
	}
	log[recordID.String()] = status

	return nil
}

// Status implements DataStore.Status.
func (m *MemoryDataStore) Status(ctx context.Context, logID record.LogID, recordID record.RecordID) (RecordStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.statuses[logID.String()]
	if !ok {
		return RecordStatus{}, fmt.Errorf("%w: %s", ErrLogNotFound, logID)
	}

	status, ok := log[recordID.String()]
	if !ok {
		return RecordStatus{}, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	return status, nil
}

// StoreLeaf implements DataStore.StoreLeaf.
func (m *MemoryDataStore) StoreLeaf(ctx context.Context, leaf SequencedLeaf) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The registry sequence is strictly append-only
	if leaf.RegistryIndex != uint64(len(m.leaves)) {
		return fmt.Errorf("leaf index %d does not extend the sequence of length %d",
			leaf.RegistryIndex, len(m.leaves))
	}

	m.leaves = append(m.leaves, leaf)
	return nil
}

// LeavesFrom implements DataStore.LeavesFrom.
func (m *MemoryDataStore) LeavesFrom(ctx context.Context, start uint64, limit int) ([]SequencedLeaf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if start >= uint64(len(m.leaves)) {
		return nil, nil
	}

	end := uint64(len(m.leaves))
	if limit > 0 && start+uint64(limit) < end {
		end = start + uint64(limit)
	}

	result := make([]SequencedLeaf, end-start)
	copy(result, m.leaves[start:end])
	return result, nil
}

// Leaves implements DataStore.Leaves.
func (m *MemoryDataStore) Leaves(ctx context.Context, indexes []uint64) ([]SequencedLeaf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]SequencedLeaf, 0, len(indexes))
	for _, index := range indexes {
		if index >= uint64(len(m.leaves)) {
			return nil, fmt.Errorf("%w: leaf %d", ErrRecordNotFound, index)
		}
		result = append(result, m.leaves[index])
	}

	return result, nil
}

// StoreCheckpoint implements DataStore.StoreCheckpoint.
func (m *MemoryDataStore) StoreCheckpoint(ctx context.Context, checkpoint *SignedCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[checkpoint.Checkpoint.LogLength] = checkpoint
	if m.latest == nil || checkpoint.Checkpoint.LogLength > m.latest.Checkpoint.LogLength {
		m.latest = checkpoint
	}

	return nil
}

// Checkpoint implements DataStore.Checkpoint.
func (m *MemoryDataStore) Checkpoint(ctx context.Context, length uint64) (*SignedCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checkpoint, ok := m.checkpoints[length]
	if !ok {
		return nil, fmt.Errorf("%w: length %d", ErrCheckpointNotFound, length)
	}

	return checkpoint, nil
}

// LatestCheckpoint implements DataStore.LatestCheckpoint.
func (m *MemoryDataStore) LatestCheckpoint(ctx context.Context) (*SignedCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.latest, nil
}

// MarkPublishedBelow implements DataStore.MarkPublishedBelow.
func (m *MemoryDataStore) MarkPublishedBelow(ctx context.Context, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := length
	if end > uint64(len(m.leaves)) {
		end = uint64(len(m.leaves))
	}

	for _, leaf := range m.leaves[:end] {
		log := m.statuses[leaf.LogID.String()]
		if log == nil {
			continue
		}
		status, ok := log[leaf.RecordID.String()]
		if !ok || status.Kind != StatusValidated {
			continue
		}
		status.Kind = StatusPublished
		log[leaf.RecordID.String()] = status
	}

	return nil
}

// SetPackageID implements DataStore.SetPackageID.
func (m *MemoryDataStore) SetPackageID(ctx context.Context, logID record.LogID, id record.PackageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.packageIDs[logID.String()] = id
	return nil
}

// PackageIDs implements DataStore.PackageIDs.
func (m *MemoryDataStore) PackageIDs(ctx context.Context) (map[string]record.PackageID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]record.PackageID, len(m.packageIDs))
	for key, id := range m.packageIDs {
		result[key] = id
	}
	return result, nil
}

// CheckpointLengths implements DataStore.CheckpointLengths.
func (m *MemoryDataStore) CheckpointLengths(ctx context.Context) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lengths := make([]uint64, 0, len(m.checkpoints))
	for length := range m.checkpoints {
		lengths = append(lengths, length)
	}
	sort.Slice(lengths, func(i, j int) bool { return lengths[i] < lengths[j] })
	return lengths, nil
}

// PendingRecords implements DataStore.PendingRecords.
func (m *MemoryDataStore) PendingRecords(ctx context.Context) ([]PendingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []PendingRecord
	for logKey, log := range m.statuses {
		for recordKey, status := range log {
			if status.Kind != StatusPending {
				continue
			}

			logID, err := hash.ParseDigest(logKey)
			if err != nil {
				return nil, err
			}
			recordID, err := hash.ParseDigest(recordKey)
			if err != nil {
				return nil, err
			}

			pending = append(pending, PendingRecord{
				LogID:          logID,
				RecordID:       recordID,
				MissingContent: status.MissingContent,
			})
		}
	}

	return pending, nil
}

// Close implements DataStore.Close.
func (m *MemoryDataStore) Close() error {
	return nil
}
