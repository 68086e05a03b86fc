//go:build rocksdb
// +build rocksdb

package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/linxGnu/grocksdb"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
)

// Column family names
const (
	cfDefault     = "default"
	cfRecords     = "records"
	cfStatuses    = "statuses"
	cfLeaves      = "leaves"
	cfCheckpoints = "checkpoints"
	cfPackageIDs  = "packageids"
)

// RocksDBConfig configures the RocksDB data store.
type RocksDBConfig struct {
	Path string `json:"path"`

	// Performance tuning
	MaxOpenFiles    int  `json:"max_open_files"`
	WriteBufferSize int  `json:"write_buffer_size"` // MB
	BlockCacheSize  int  `json:"block_cache_size"`  // MB
	SyncWrites      bool `json:"sync_writes"`
}

// DefaultRocksDBConfig returns sensible defaults for the data store.
func DefaultRocksDBConfig() *RocksDBConfig {
	return &RocksDBConfig{
		Path:            "./data/registry",
		MaxOpenFiles:    1000,
		WriteBufferSize: 64,
		BlockCacheSize:  128,
		SyncWrites:      true,
	}
}

// RocksDBDataStore implements DataStore on RocksDB.
type RocksDBDataStore struct {
	config *RocksDBConfig
	db     *grocksdb.DB
	opts   *grocksdb.Options

	cfs map[string]*grocksdb.ColumnFamilyHandle

	readOpts  *grocksdb.ReadOptions
	writeOpts *grocksdb.WriteOptions

	mu     sync.Mutex
	closed bool
}

// NewRocksDBDataStore opens (or creates) a RocksDB-backed data store.
func NewRocksDBDataStore(config *RocksDBConfig) (*RocksDBDataStore, error) {
	if config == nil {
		config = DefaultRocksDBConfig()
	}

	s := &RocksDBDataStore{
		config: config,
		cfs:    make(map[string]*grocksdb.ColumnFamilyHandle),
	}

	s.opts = grocksdb.NewDefaultOptions()
	s.opts.SetCreateIfMissing(true)
	s.opts.SetCreateIfMissingColumnFamilies(true)
	s.opts.SetMaxOpenFiles(config.MaxOpenFiles)
	s.opts.SetWriteBufferSize(uint64(config.WriteBufferSize) * 1024 * 1024)

	blockCache := grocksdb.NewLRUCache(uint64(config.BlockCacheSize) * 1024 * 1024)
	blockOpts := grocksdb.NewDefaultBlockBasedTableOptions()
	blockOpts.SetBlockCache(blockCache)
	s.opts.SetBlockBasedTableFactory(blockOpts)

	cfNames := []string{cfDefault, cfRecords, cfStatuses, cfLeaves, cfCheckpoints, cfPackageIDs}
	cfOpts := make([]*grocksdb.Options, len(cfNames))
	for i := range cfNames {
		cfOpts[i] = grocksdb.NewDefaultOptions()
	}

	db, cfHandles, err := grocksdb.OpenDbColumnFamilies(s.opts, config.Path, cfNames, cfOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open rocksdb: %w", err)
	}

	s.db = db
	for i, name := range cfNames {
		s.cfs[name] = cfHandles[i]
	}

	s.readOpts = grocksdb.NewDefaultReadOptions()
	s.writeOpts = grocksdb.NewDefaultWriteOptions()
	s.writeOpts.SetSync(config.SyncWrites)

	return s, nil
}

func recordKey(logID record.LogID, recordID record.RecordID) []byte {
	return []byte(logID.String() + "/" + recordID.String())
}

func leafKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func (s *RocksDBDataStore) put(cf string, key, value []byte) error {
	return s.db.PutCF(s.writeOpts, s.cfs[cf], key, value)
}

func (s *RocksDBDataStore) get(cf string, key []byte) ([]byte, bool, error) {
	slice, err := s.db.GetCF(s.readOpts, s.cfs[cf], key)
	if err != nil {
		return nil, false, err
	}
	defer slice.Free()

	if !slice.Exists() {
		return nil, false, nil
	}

	return append([]byte(nil), slice.Data()...), true, nil
}

// StoreEnvelope implements DataStore.StoreEnvelope.
func (s *RocksDBDataStore) StoreEnvelope(ctx context.Context, logID record.LogID, recordID record.RecordID, envelope *record.Envelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return s.put(cfRecords, recordKey(logID, recordID), value)
}

// Envelope implements DataStore.Envelope.
func (s *RocksDBDataStore) Envelope(ctx context.Context, logID record.LogID, recordID record.RecordID) (*record.Envelope, error) {
	value, found, err := s.get(cfRecords, recordKey(logID, recordID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	var envelope record.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &envelope, nil
}

// SetStatus implements DataStore.SetStatus.
func (s *RocksDBDataStore) SetStatus(ctx context.Context, logID record.LogID, recordID record.RecordID, status RecordStatus) error {
	value, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return s.put(cfStatuses, recordKey(logID, recordID), value)
}

// Status implements DataStore.Status.
func (s *RocksDBDataStore) Status(ctx context.Context, logID record.LogID, recordID record.RecordID) (RecordStatus, error) {
	value, found, err := s.get(cfStatuses, recordKey(logID, recordID))
	if err != nil {
		return RecordStatus{}, err
	}
	if !found {
		return RecordStatus{}, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	var status RecordStatus
	if err := json.Unmarshal(value, &status); err != nil {
		return RecordStatus{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}

// StoreLeaf implements DataStore.StoreLeaf.
func (s *RocksDBDataStore) StoreLeaf(ctx context.Context, leaf SequencedLeaf) error {
	value, err := json.Marshal(leaf)
	if err != nil {
		return fmt.Errorf("failed to encode leaf: %w", err)
	}
	return s.put(cfLeaves, leafKey(leaf.RegistryIndex), value)
}

// LeavesFrom implements DataStore.LeavesFrom.
func (s *RocksDBDataStore) LeavesFrom(ctx context.Context, start uint64, limit int) ([]SequencedLeaf, error) {
	it := s.db.NewIteratorCF(s.readOpts, s.cfs[cfLeaves])
	defer it.Close()

	var leaves []SequencedLeaf
	for it.Seek(leafKey(start)); it.Valid(); it.Next() {
		if limit > 0 && len(leaves) >= limit {
			break
		}

		var leaf SequencedLeaf
		if err := json.Unmarshal(it.Value().Data(), &leaf); err != nil {
			it.Value().Free()
			return nil, fmt.Errorf("failed to decode leaf: %w", err)
		}
		it.Value().Free()
		it.Key().Free()

		leaves = append(leaves, leaf)
	}

	return leaves, nil
}

// Leaves implements DataStore.Leaves.
func (s *RocksDBDataStore) Leaves(ctx context.Context, indexes []uint64) ([]SequencedLeaf, error) {
	leaves := make([]SequencedLeaf, 0, len(indexes))
	for _, index := range indexes {
		value, found, err := s.get(cfLeaves, leafKey(index))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: leaf %d", ErrRecordNotFound, index)
		}

		var leaf SequencedLeaf
		if err := json.Unmarshal(value, &leaf); err != nil {
			return nil, fmt.Errorf("failed to decode leaf: %w", err)
		}
		leaves = append(leaves, leaf)
	}

	return leaves, nil
}

// StoreCheckpoint implements DataStore.StoreCheckpoint.
func (s *RocksDBDataStore) StoreCheckpoint(ctx context.Context, checkpoint *SignedCheckpoint) error {
	value, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return s.put(cfCheckpoints, leafKey(checkpoint.Checkpoint.LogLength), value)
}

// Checkpoint implements DataStore.Checkpoint.
func (s *RocksDBDataStore) Checkpoint(ctx context.Context, length uint64) (*SignedCheckpoint, error) {
	value, found, err := s.get(cfCheckpoints, leafKey(length))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: length %d", ErrCheckpointNotFound, length)
	}

	var checkpoint SignedCheckpoint
	if err := json.Unmarshal(value, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// LatestCheckpoint implements DataStore.LatestCheckpoint.
func (s *RocksDBDataStore) LatestCheckpoint(ctx context.Context) (*SignedCheckpoint, error) {
	it := s.db.NewIteratorCF(s.readOpts, s.cfs[cfCheckpoints])
	defer it.Close()

	it.SeekToLast()
	if !it.Valid() {
		return nil, nil
	}

	var checkpoint SignedCheckpoint
	if err := json.Unmarshal(it.Value().Data(), &checkpoint); err != nil {
		it.Value().Free()
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	it.Value().Free()

	return &checkpoint, nil
}

// MarkPublishedBelow implements DataStore.MarkPublishedBelow.
func (s *RocksDBDataStore) MarkPublishedBelow(ctx context.Context, length uint64) error {
	leaves, err := s.LeavesFrom(ctx, 0, 0)
	if err != nil {
		return err
	}

	for _, leaf := range leaves {
		if leaf.RegistryIndex >= length {
			break
		}

		status, err := s.Status(ctx, leaf.LogID, leaf.RecordID)
		if err != nil || status.Kind != StatusValidated {
			continue
		}

		status.Kind = StatusPublished
		if err := s.SetStatus(ctx, leaf.LogID, leaf.RecordID, status); err != nil {
			return err
		}
	}

	return nil
}

// SetPackageID implements DataStore.SetPackageID.
func (s *RocksDBDataStore) SetPackageID(ctx context.Context, logID record.LogID, id record.PackageID) error {
	return s.put(cfPackageIDs, []byte(logID.String()), []byte(id.String()))
}

// PackageIDs implements DataStore.PackageIDs.
func (s *RocksDBDataStore) PackageIDs(ctx context.Context) (map[string]record.PackageID, error) {
	it := s.db.NewIteratorCF(s.readOpts, s.cfs[cfPackageIDs])
	defer it.Close()

	result := make(map[string]record.PackageID)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		id, err := record.ParsePackageID(string(it.Value().Data()))
		if err != nil {
			it.Value().Free()
			return nil, err
		}

		result[string(it.Key().Data())] = id
		it.Value().Free()
		it.Key().Free()
	}

	return result, nil
}

// CheckpointLengths implements DataStore.CheckpointLengths.
func (s *RocksDBDataStore) CheckpointLengths(ctx context.Context) ([]uint64, error) {
	it := s.db.NewIteratorCF(s.readOpts, s.cfs[cfCheckpoints])
	defer it.Close()

	var lengths []uint64
	for it.SeekToFirst(); it.Valid(); it.Next() {
		lengths = append(lengths, binary.BigEndian.Uint64(it.Key().Data()))
		it.Key().Free()
		it.Value().Free()
	}

	return lengths, nil
}

// PendingRecords implements DataStore.PendingRecords.
func (s *RocksDBDataStore) PendingRecords(ctx context.Context) ([]PendingRecord, error) {
	it := s.db.NewIteratorCF(s.readOpts, s.cfs[cfStatuses])
	defer it.Close()

	var pending []PendingRecord
	for it.SeekToFirst(); it.Valid(); it.Next() {
		var status RecordStatus
		if err := json.Unmarshal(it.Value().Data(), &status); err != nil {
			it.Value().Free()
			return nil, fmt.Errorf("failed to decode status: %w", err)
		}
		it.Value().Free()

		if status.Kind != StatusPending {
			it.Key().Free()
			continue
		}

		// Keys are "<log digest>/<record digest>"
		key := string(it.Key().Data())
		it.Key().Free()

		slash := strings.IndexByte(key, '/')
		if slash < 0 {
			return nil, fmt.Errorf("malformed status key %q", key)
		}
		logPart, recordPart := key[:slash], key[slash+1:]

		logID, err := hash.ParseDigest(logPart)
		if err != nil {
			return nil, err
		}
		recordID, err := hash.ParseDigest(recordPart)
		if err != nil {
			return nil, err
		}

		pending = append(pending, PendingRecord{
			LogID:          logID,
			RecordID:       recordID,
			MissingContent: status.MissingContent,
		})
	}

	return pending, nil
}

// Close implements DataStore.Close.
func (s *RocksDBDataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, cf := range s.cfs {
		cf.Destroy()
	}
	s.db.Close()
	s.opts.Destroy()
	s.readOpts.Destroy()
	s.writeOpts.Destroy()

	return nil
}
