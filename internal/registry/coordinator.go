package registry

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"sync"
	"time"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	logpkg "github.com/ClearlogHQ/clearlog/internal/log"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
	"github.com/ClearlogHQ/clearlog/internal/smap"
	"github.com/ClearlogHQ/clearlog/internal/store"
	"github.com/ClearlogHQ/clearlog/internal/validator"
)

// Config holds coordinator configuration.
type Config struct {
	// Interval between periodic checkpoints; zero disables the timer
	CheckpointInterval time.Duration `json:"checkpoint_interval"`

	// Maximum leaves returned by a single fetch
	MaxFetchLimit int `json:"max_fetch_limit"`
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		CheckpointInterval: 30 * time.Second,
		MaxFetchLimit:      1000,
	}
}

// SubmitResult is the outcome of a record submission.
type SubmitResult struct {
	// Id of the submitted record
	RecordID record.RecordID `json:"recordId"`

	// Status of the record after submission
	Status RecordStatus `json:"status"`
}

// InclusionProofs bundles the proofs binding a set of leaves to a checkpoint.
type InclusionProofs struct {
	// Checkpoint length the proofs are valid for
	CheckpointLength uint64 `json:"checkpointLength"`

	// One serialized Merkle log inclusion proof per requested leaf
	LogProofs [][]byte `json:"logProofs"`

	// One serialized Merkle map inclusion proof per requested leaf,
	// proving the log's latest record id at the checkpoint
	MapProofs [][]byte `json:"mapProofs"`
}

// Coordinator is the concurrency hub of the registry. It owns the
// per-log validators, the global registry sequence, the Merkle log and
// map, and the checkpoint history.
//
// Lock discipline: a log's lock is always acquired before the registry
// lock, and no task holds two log locks at once. Submissions take the
// log lock then the registry lock in write mode; fetches and proofs
// take only the registry lock in read mode; checkpointing takes the
// registry lock in write mode.
type Coordinator struct {
	config *Config
	data   DataStore
	blobs  store.BlobStore

	// Operator signing key for minting checkpoints
	operatorSigner signing.Signer

	// Per-log write locks and validator states
	logMu      sync.Mutex
	logLocks   map[string]*sync.RWMutex
	packages   map[string]*validator.PackageState
	packageIDs map[string]record.PackageID
	operator   *validator.OperatorState

	// Registry lock guarding everything below
	mu sync.RWMutex

	// Merkle structures over the registry sequence
	merkleLog *logpkg.Log
	merkleMap *smap.Map

	// Map snapshots at each checkpoint length; persistence of the map
	// makes these cheap structural shares
	mapSnapshots map[uint64]*smap.Map

	// Accepted records per log, in log order
	logEntries map[string][]record.RecordID

	// Registry index of every validated record
	recordIndex map[string]uint64

	// Content digests awaited by pending records
	pendingByDigest map[string][]pendingRef

	// Lifecycle
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// pendingRef points at a pending record awaiting content.
type pendingRef struct {
	logID    record.LogID
	recordID record.RecordID
}

// logKind distinguishes the operator log from package logs.
type logKind int

const (
	kindOperator logKind = iota
	kindPackage
)

// New creates a coordinator over the given stores.
// The operator signer is used to sign checkpoints; its key must hold
// the commit permission on the operator log.
func New(config *Config, data DataStore, blobs store.BlobStore, operatorSigner signing.Signer) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}

	return &Coordinator{
		config:          config,
		data:            data,
		blobs:           blobs,
		operatorSigner:  operatorSigner,
		logLocks:        make(map[string]*sync.RWMutex),
		packages:        make(map[string]*validator.PackageState),
		packageIDs:      make(map[string]record.PackageID),
		operator:        validator.NewOperatorState(),
		merkleLog:       logpkg.New(),
		merkleMap:       smap.New(),
		mapSnapshots:    make(map[uint64]*smap.Map),
		logEntries:      make(map[string][]record.RecordID),
		recordIndex:     make(map[string]uint64),
		pendingByDigest: make(map[string][]pendingRef),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start begins the periodic checkpoint timer.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	if c.config.CheckpointInterval <= 0 {
		close(c.doneCh)
		return nil
	}

	go c.checkpointScheduler(ctx)
	return nil
}

// Stop stops the periodic checkpoint timer.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)

	select {
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// checkpointScheduler mints checkpoints on the configured interval.
func (c *Coordinator) checkpointScheduler(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Checkpoint(ctx); err != nil && !errors.Is(err, ErrCheckpointNotMonotonic) {
				stdlog.Printf("checkpoint failed: %v", err)
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// logLock returns the lock for a log, creating it on first use.
func (c *Coordinator) logLock(logID record.LogID) *sync.RWMutex {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	lock, ok := c.logLocks[logID.String()]
	if !ok {
		lock = &sync.RWMutex{}
		c.logLocks[logID.String()] = lock
	}

	return lock
}

// packageState returns the validator for a package log, creating it on
// first use. Caller holds the log's lock.
func (c *Coordinator) packageState(id record.PackageID) *validator.PackageState {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	key := id.LogID().String()
	state, ok := c.packages[key]
	if !ok {
		state = validator.NewPackageState()
		c.packages[key] = state
		c.packageIDs[key] = id
	}

	return state
}

// SubmitOperatorRecord submits a record to the operator log.
func (c *Coordinator) SubmitOperatorRecord(ctx context.Context, envelope *record.Envelope) (*SubmitResult, error) {
	return c.submit(ctx, record.OperatorLogID(), kindOperator, nil, envelope)
}

// SubmitPackageRecord submits a record to a package log.
func (c *Coordinator) SubmitPackageRecord(ctx context.Context, id record.PackageID, envelope *record.Envelope) (*SubmitResult, error) {
	return c.submit(ctx, id.LogID(), kindPackage, &id, envelope)
}

func (c *Coordinator) submit(ctx context.Context, logID record.LogID, kind logKind, pkgID *record.PackageID, envelope *record.Envelope) (*SubmitResult, error) {
	lock := c.logLock(logID)
	lock.Lock()
	defer lock.Unlock()

	recordID := envelope.RecordID()

	// Rejections are durable: identical bytes produce the same outcome
	if status, err := c.data.Status(ctx, logID, recordID); err == nil {
		result := &SubmitResult{RecordID: recordID, Status: status}
		if status.Kind == StatusRejected {
			return result, &RejectedError{Reason: status.Reason}
		}
		return result, nil
	}

	// Malformed submissions are surfaced without being stored
	var missing []hash.Digest
	if kind == kindPackage {
		decoded, err := record.DecodePackageRecord(envelope.ContentBytes)
		if err != nil {
			return nil, err
		}

		for _, digest := range decoded.ContentDigests() {
			present, err := c.blobs.Has(ctx, digest)
			if err != nil {
				return nil, fmt.Errorf("failed to check content %s: %w", digest, err)
			}
			if !present {
				missing = append(missing, digest)
			}
		}
	} else {
		if _, err := record.DecodeOperatorRecord(envelope.ContentBytes); err != nil {
			return nil, err
		}
	}

	if err := c.data.StoreEnvelope(ctx, logID, recordID, envelope); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}

	if kind == kindPackage {
		if err := c.data.SetPackageID(ctx, logID, *pkgID); err != nil {
			return nil, fmt.Errorf("failed to store package id: %w", err)
		}
	}

	if len(missing) > 0 {
		// Hold the record pending until its content arrives
		status := RecordStatus{Kind: StatusPending, MissingContent: missing}
		if err := c.data.SetStatus(ctx, logID, recordID, status); err != nil {
			return nil, fmt.Errorf("failed to store record status: %w", err)
		}

		c.mu.Lock()
		for _, digest := range missing {
			c.pendingByDigest[digest.String()] = append(c.pendingByDigest[digest.String()],
				pendingRef{logID: logID, recordID: recordID})
		}
		c.mu.Unlock()

		return &SubmitResult{RecordID: recordID, Status: status}, nil
	}

	return c.commit(ctx, logID, kind, pkgID, recordID, envelope)
}

// commit validates a record and sequences it into the registry.
// Caller holds the log's write lock.
func (c *Coordinator) commit(ctx context.Context, logID record.LogID, kind logKind, pkgID *record.PackageID, recordID record.RecordID, envelope *record.Envelope) (*SubmitResult, error) {
	var validationErr error
	switch kind {
	case kindOperator:
		validationErr = c.operator.Validate(envelope)
	case kindPackage:
		validationErr = c.packageState(*pkgID).Validate(envelope)
	}

	if validationErr != nil {
		status := RecordStatus{Kind: StatusRejected, Reason: validationErr.Error()}
		if err := c.data.SetStatus(ctx, logID, recordID, status); err != nil {
			return nil, fmt.Errorf("failed to store rejection: %w", err)
		}
		return &SubmitResult{RecordID: recordID, Status: status}, validationErr
	}

	// Sequence the accepted record into the global registry
	leaf := LogLeaf{LogID: logID, RecordID: recordID}

	c.mu.Lock()
	registryIndex := c.merkleLog.Length()
	c.merkleLog.Push(leaf.Bytes())
	c.merkleMap, _ = c.merkleMap.Insert([]byte(logID.String()), []byte(recordID.String()))
	c.logEntries[logID.String()] = append(c.logEntries[logID.String()], recordID)
	c.recordIndex[recordID.String()] = registryIndex
	c.mu.Unlock()

	if err := c.data.StoreLeaf(ctx, SequencedLeaf{RegistryIndex: registryIndex, LogLeaf: leaf}); err != nil {
		return nil, fmt.Errorf("failed to store leaf: %w", err)
	}

	status := RecordStatus{Kind: StatusValidated, RegistryIndex: registryIndex}
	if err := c.data.SetStatus(ctx, logID, recordID, status); err != nil {
		return nil, fmt.Errorf("failed to store record status: %w", err)
	}

	return &SubmitResult{RecordID: recordID, Status: status}, nil
}

// ContentPresent reports that content with the digest is now in the blob
// store. Pending records whose content requirements become satisfied are
// validated and sequenced; their record ids are returned.
func (c *Coordinator) ContentPresent(ctx context.Context, digest hash.Digest) ([]record.RecordID, error) {
	c.mu.Lock()
	refs := c.pendingByDigest[digest.String()]
	delete(c.pendingByDigest, digest.String())
	c.mu.Unlock()

	var committed []record.RecordID
	for _, ref := range refs {
		recordID, err := c.retryPending(ctx, ref, digest)
		if err != nil {
			return committed, err
		}
		if recordID != nil {
			committed = append(committed, *recordID)
		}
	}

	return committed, nil
}

// retryPending removes the digest from a pending record's missing set
// and commits the record once nothing is missing.
func (c *Coordinator) retryPending(ctx context.Context, ref pendingRef, digest hash.Digest) (*record.RecordID, error) {
	lock := c.logLock(ref.logID)
	lock.Lock()
	defer lock.Unlock()

	status, err := c.data.Status(ctx, ref.logID, ref.recordID)
	if err != nil || status.Kind != StatusPending {
		return nil, nil
	}

	var remaining []hash.Digest
	for _, d := range status.MissingContent {
		if !d.Equal(digest) {
			remaining = append(remaining, d)
		}
	}

	if len(remaining) > 0 {
		status.MissingContent = remaining
		if err := c.data.SetStatus(ctx, ref.logID, ref.recordID, status); err != nil {
			return nil, fmt.Errorf("failed to update record status: %w", err)
		}
		return nil, nil
	}

	envelope, err := c.data.Envelope(ctx, ref.logID, ref.recordID)
	if err != nil {
		return nil, err
	}

	id, ok := c.packageIDFor(ref.logID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, ref.logID)
	}

	result, err := c.commit(ctx, ref.logID, kindPackage, &id, ref.recordID, envelope)
	if err != nil {
		// A rejection here is recorded durably; it is not the upload
		// caller's error
		if _, ok := validator.IsValidation(err); ok {
			return nil, nil
		}
		return nil, err
	}

	return &result.RecordID, nil
}

func (c *Coordinator) packageIDFor(logID record.LogID) (record.PackageID, bool) {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	id, ok := c.packageIDs[logID.String()]
	return id, ok
}

// Checkpoint mints, signs, and stores a checkpoint of the current
// registry state. The checkpoint sequence is strictly increasing in log
// length; minting with nothing new since the latest checkpoint fails
// with ErrCheckpointNotMonotonic.
func (c *Coordinator) Checkpoint(ctx context.Context) (*SignedCheckpoint, error) {
	if c.operatorSigner == nil {
		return nil, ErrNoOperatorKey
	}

	// The operator key must hold the commit permission. The operator
	// log lock is taken before the registry lock, per the lock order.
	operatorLock := c.logLock(record.OperatorLogID())
	operatorLock.RLock()
	holdsCommit := false
	for _, p := range c.operator.Permissions(c.operatorSigner.KeyID()) {
		if p == record.PermissionCommit {
			holdsCommit = true
			break
		}
	}
	operatorLock.RUnlock()
	if !holdsCommit {
		return nil, ErrNoOperatorKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	length := c.merkleLog.Length()

	latest, err := c.data.LatestCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	if latest != nil && length <= latest.Checkpoint.LogLength {
		return nil, ErrCheckpointNotMonotonic
	}

	checkpoint := Checkpoint{
		LogLength: length,
		LogRoot:   c.merkleLog.RootAt(length),
		MapRoot:   c.merkleMap.Root(),
		Timestamp: time.Now(),
	}

	envelope, err := SignCheckpoint(c.operatorSigner, &checkpoint)
	if err != nil {
		return nil, err
	}

	signed := &SignedCheckpoint{Checkpoint: checkpoint, Envelope: envelope}
	if err := c.data.StoreCheckpoint(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to store checkpoint: %w", err)
	}

	// Keep the map at this prefix for later inclusion proofs
	c.mapSnapshots[length] = c.merkleMap

	if err := c.data.MarkPublishedBelow(ctx, length); err != nil {
		return nil, fmt.Errorf("failed to publish records: %w", err)
	}

	return signed, nil
}

// LatestCheckpoint returns the latest minted checkpoint, or
// ErrCheckpointNotFound when none exists.
func (c *Coordinator) LatestCheckpoint(ctx context.Context) (*SignedCheckpoint, error) {
	latest, err := c.data.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrCheckpointNotFound
	}
	return latest, nil
}

// CheckpointAt returns the checkpoint with the exact log length.
func (c *Coordinator) CheckpointAt(ctx context.Context, length uint64) (*SignedCheckpoint, error) {
	return c.data.Checkpoint(ctx, length)
}

// FetchRecords returns records of a log bounded by a checkpoint length,
// in log order, coming after the since record when given. A since cursor
// at the log's tip yields an empty list.
func (c *Coordinator) FetchRecords(ctx context.Context, logID record.LogID, since *record.RecordID, maxRegistryLength uint64, limit int) ([]*record.Envelope, error) {
	if _, err := c.data.Checkpoint(ctx, maxRegistryLength); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > c.config.MaxFetchLimit {
		limit = c.config.MaxFetchLimit
	}

	c.mu.RLock()
	entries := append([]record.RecordID(nil), c.logEntries[logID.String()]...)
	indexes := make([]uint64, len(entries))
	for i, id := range entries {
		indexes[i] = c.recordIndex[id.String()]
	}
	c.mu.RUnlock()

	start := 0
	if since != nil {
		found := false
		for i, id := range entries {
			if id.Equal(*since) {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: since record %s", ErrRecordNotFound, *since)
		}
	}

	var envelopes []*record.Envelope
	for i := start; i < len(entries); i++ {
		if len(envelopes) >= limit {
			break
		}

		if indexes[i] >= maxRegistryLength {
			break
		}

		envelope, err := c.data.Envelope(ctx, logID, entries[i])
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope)
	}

	return envelopes, nil
}

// FetchLeaves returns sequenced registry leaves starting at an index.
func (c *Coordinator) FetchLeaves(ctx context.Context, start uint64, limit int) ([]SequencedLeaf, error) {
	if limit <= 0 || limit > c.config.MaxFetchLimit {
		limit = c.config.MaxFetchLimit
	}

	return c.data.LeavesFrom(ctx, start, limit)
}

// RecordStatus returns the status of a submitted record.
func (c *Coordinator) RecordStatus(ctx context.Context, logID record.LogID, recordID record.RecordID) (RecordStatus, error) {
	return c.data.Status(ctx, logID, recordID)
}

// ProveInclusion produces, for each leaf, a log-inclusion proof against
// the checkpoint's Merkle log root and a map-inclusion proof of the
// leaf's log against the checkpoint's map root.
func (c *Coordinator) ProveInclusion(ctx context.Context, checkpointLength uint64, leaves []LogLeaf) (*InclusionProofs, error) {
	if _, err := c.data.Checkpoint(ctx, checkpointLength); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot, ok := c.mapSnapshots[checkpointLength]
	if !ok {
		return nil, fmt.Errorf("%w: length %d", ErrCheckpointNotFound, checkpointLength)
	}

	proofs := &InclusionProofs{CheckpointLength: checkpointLength}

	for _, leaf := range leaves {
		index, ok := c.recordIndex[leaf.RecordID.String()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, leaf.RecordID)
		}
		if index >= checkpointLength {
			return nil, fmt.Errorf("%w: leaf %d at checkpoint %d", ErrLeafNotCommitted, index, checkpointLength)
		}

		logProof, err := c.merkleLog.ProveInclusionAt(checkpointLength, logpkg.LeafHash(leaf.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("failed to prove log inclusion: %w", err)
		}
		proofs.LogProofs = append(proofs.LogProofs, logpkg.MarshalInclusionProof(logProof))

		mapProof := snapshot.Prove([]byte(leaf.LogID.String()))
		proofs.MapProofs = append(proofs.MapProofs, smap.MarshalProof(mapProof))
	}

	return proofs, nil
}

// ProveConsistency produces the Merkle log consistency proof between two
// checkpointed lengths.
func (c *Coordinator) ProveConsistency(ctx context.Context, oldLength, newLength uint64) ([]byte, error) {
	if oldLength > newLength {
		return nil, logpkg.ErrPointsOutOfOrder
	}

	if _, err := c.data.Checkpoint(ctx, oldLength); err != nil {
		return nil, err
	}
	if _, err := c.data.Checkpoint(ctx, newLength); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	proof, err := c.merkleLog.ProveConsistencyAt(oldLength, newLength)
	if err != nil {
		return nil, err
	}

	return logpkg.MarshalConsistencyProof(proof), nil
}

// OperatorLogState exposes the operator log validator for queries.
func (c *Coordinator) OperatorLogState() *validator.OperatorState {
	return c.operator
}

// PackageLogState exposes a package log's validator for queries.
// The second return is false when the log does not exist.
func (c *Coordinator) PackageLogState(id record.PackageID) (*validator.PackageState, bool) {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	state, ok := c.packages[id.LogID().String()]
	return state, ok
}

// Length returns the current registry length.
func (c *Coordinator) Length() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.merkleLog.Length()
}
