package registry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	logpkg "github.com/ClearlogHQ/clearlog/internal/log"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
	"github.com/ClearlogHQ/clearlog/internal/smap"
	"github.com/ClearlogHQ/clearlog/internal/store"
	"github.com/ClearlogHQ/clearlog/internal/validator"
)

type testRegistry struct {
	coordinator *Coordinator
	data        *MemoryDataStore
	blobs       *store.MemoryBlobStore
	operator    *signing.KeyPair
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()

	operator, err := signing.NewKeyPairFromSeed(bytes.Repeat([]byte{0xA0}, signing.SeedSize))
	require.NoError(t, err)

	data := NewMemoryDataStore()
	blobs := store.NewMemoryBlobStore(nil)

	config := DefaultConfig()
	config.CheckpointInterval = 0 // checkpoints minted explicitly in tests

	return &testRegistry{
		coordinator: New(config, data, blobs, operator.Signer()),
		data:        data,
		blobs:       blobs,
		operator:    operator,
	}
}

func (r *testRegistry) bootstrapOperator(t *testing.T) *record.Envelope {
	t.Helper()

	envelope, err := record.SignOperatorRecord(r.operator.Signer(), &record.OperatorRecord{
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorInit{HashAlgorithm: hash.AlgorithmSHA256, Key: r.operator.Public},
		},
	})
	require.NoError(t, err)

	result, err := r.coordinator.SubmitOperatorRecord(context.Background(), envelope)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, result.Status.Kind)

	return envelope
}

func (r *testRegistry) putContent(t *testing.T, data []byte) hash.Digest {
	t.Helper()

	digest := hash.New(data)
	require.NoError(t, r.blobs.Put(context.Background(), digest, data))
	return digest
}

func testKeyPair(t *testing.T, seed byte) *signing.KeyPair {
	t.Helper()
	kp, err := signing.NewKeyPairFromSeed(bytes.Repeat([]byte{seed}, signing.SeedSize))
	require.NoError(t, err)
	return kp
}

func mustPackageID(t *testing.T, s string) record.PackageID {
	t.Helper()
	id, err := record.ParsePackageID(s)
	require.NoError(t, err)
	return id
}

// S1: operator init, package init, release, then fetch and query.
func TestInitAndRelease(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	pkg := mustPackageID(t, "ex:pkg")

	r.bootstrapOperator(t)

	// Package init signed by alice
	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)

	result, err := r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, result.Status.Kind)

	// Release 1.1.0 with present content
	content := r.putContent(t, []byte("abcd"))
	prev := init.RecordID()
	release, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.1.0"), ContentDigest: content},
		},
	})
	require.NoError(t, err)

	result, err = r.coordinator.SubmitPackageRecord(ctx, pkg, release)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, result.Status.Kind)
	assert.Equal(t, uint64(3), r.coordinator.Length())

	// Checkpoint the three records and fetch them back
	signed, err := r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), signed.Checkpoint.LogLength)

	records, err := r.coordinator.FetchRecords(ctx, pkg.LogID(), nil, 3, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, init.ContentBytes, records[0].ContentBytes)
	assert.Equal(t, release.ContentBytes, records[1].ContentBytes)

	// The operator log holds its init record
	operatorRecords, err := r.coordinator.FetchRecords(ctx, record.OperatorLogID(), nil, 3, 10)
	require.NoError(t, err)
	assert.Len(t, operatorRecords, 1)

	// find_latest_release("~1") sees the release
	state, ok := r.coordinator.PackageLogState(pkg)
	require.True(t, ok)

	constraint, err := semver.NewConstraint("~1")
	require.NoError(t, err)

	latest := state.FindLatestRelease(constraint)
	require.NotNil(t, latest)
	assert.Equal(t, "1.1.0", latest.Version.String())
}

// S2: yanked releases disappear from latest queries but remain listed.
func TestYank(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	pkg := mustPackageID(t, "ex:pkg")

	r.bootstrapOperator(t)

	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)

	content := r.putContent(t, []byte("abcd"))
	prev := init.RecordID()
	release, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.1.0"), ContentDigest: content},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, release)
	require.NoError(t, err)

	prev = release.RecordID()
	yank, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageYank{Version: semver.MustParse("1.1.0")},
		},
	})
	require.NoError(t, err)

	result, err := r.coordinator.SubmitPackageRecord(ctx, pkg, yank)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, result.Status.Kind)

	state, ok := r.coordinator.PackageLogState(pkg)
	require.True(t, ok)

	constraint, err := semver.NewConstraint("~1")
	require.NoError(t, err)
	assert.Nil(t, state.FindLatestRelease(constraint))

	releases := state.Releases()
	require.Len(t, releases, 1)
	assert.True(t, releases[0].Yanked())
}

// S3: a submission signed by an unknown key is rejected and the
// rejection is durable.
func TestUnauthorizedSubmission(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	mallory := testKeyPair(t, 9)
	pkg := mustPackageID(t, "ex:pkg")

	r.bootstrapOperator(t)

	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)

	content := r.putContent(t, []byte("evil"))
	prev := init.RecordID()
	attempt, err := record.SignPackageRecord(mallory.Signer(), &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("2.0.0"), ContentDigest: content},
		},
	})
	require.NoError(t, err)

	result, err := r.coordinator.SubmitPackageRecord(ctx, pkg, attempt)
	ve, ok := validator.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, validator.CodeKeyIDNotRecognized, ve.Code)
	assert.Equal(t, StatusRejected, result.Status.Kind)

	// The log head is unchanged
	state, ok := r.coordinator.PackageLogState(pkg)
	require.True(t, ok)
	assert.True(t, state.Head().Digest.Equal(init.RecordID()))

	// Resubmitting identical bytes returns the stored rejection
	result, err = r.coordinator.SubmitPackageRecord(ctx, pkg, attempt)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, StatusRejected, result.Status.Kind)
	assert.Contains(t, rejected.Reason, "not known to this log")

	// And the status is queryable
	status, err := r.coordinator.RecordStatus(ctx, pkg.LogID(), attempt.RecordID())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, status.Kind)
}

// S5: a record whose prev skips the head is rejected.
func TestChainTamper(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	pkg := mustPackageID(t, "ex:pkg")

	r.bootstrapOperator(t)

	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)

	content := r.putContent(t, []byte("abcd"))
	prev0 := init.RecordID()
	second, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev0,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: content},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, second)
	require.NoError(t, err)

	// prev points at the init record, skipping the second
	tampered, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev0,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("2.0.0"), ContentDigest: content},
		},
	})
	require.NoError(t, err)

	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, tampered)
	ve, ok := validator.IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, validator.CodeRecordHashDoesNotMatch, ve.Code)
}

func TestCheckpointMonotonicity(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	r.bootstrapOperator(t)

	first, err := r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Checkpoint.LogLength)

	// Nothing new: minting again is rejected
	_, err = r.coordinator.Checkpoint(ctx)
	assert.ErrorIs(t, err, ErrCheckpointNotMonotonic)

	// The checkpoint envelope verifies against the operator key
	require.NoError(t, first.Envelope.Verify(r.operator.Public))

	decoded, err := DecodeCheckpoint(first.Envelope.ContentBytes)
	require.NoError(t, err)
	assert.Equal(t, first.Checkpoint.LogLength, decoded.LogLength)
	assert.True(t, decoded.LogRoot.Equal(first.Checkpoint.LogRoot))
}

func TestCheckpointRequiresCommitPermission(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	// No operator init yet: the signer holds no permissions
	_, err := r.coordinator.Checkpoint(ctx)
	assert.ErrorIs(t, err, ErrNoOperatorKey)
}

func TestFetchRecordsRequiresCheckpoint(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	r.bootstrapOperator(t)

	_, err := r.coordinator.FetchRecords(ctx, record.OperatorLogID(), nil, 99, 10)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestFetchRecordsSinceTip(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	operatorInit := r.bootstrapOperator(t)

	_, err := r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)

	since := operatorInit.RecordID()
	records, err := r.coordinator.FetchRecords(ctx, record.OperatorLogID(), &since, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPendingContent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	pkg := mustPackageID(t, "ex:pkg")

	r.bootstrapOperator(t)

	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)

	// Submit a release whose content has not been uploaded
	contentBytes := []byte("not yet uploaded")
	contentDigest := hash.New(contentBytes)

	prev := init.RecordID()
	release, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: contentDigest},
		},
	})
	require.NoError(t, err)

	result, err := r.coordinator.SubmitPackageRecord(ctx, pkg, release)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status.Kind)
	require.Len(t, result.Status.MissingContent, 1)
	assert.True(t, result.Status.MissingContent[0].Equal(contentDigest))

	// The record is not sequenced yet
	assert.Equal(t, uint64(2), r.coordinator.Length())

	// Upload the content and report it present
	require.NoError(t, r.blobs.Put(ctx, contentDigest, contentBytes))
	committed, err := r.coordinator.ContentPresent(ctx, contentDigest)
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.True(t, committed[0].Equal(release.RecordID()))

	status, err := r.coordinator.RecordStatus(ctx, pkg.LogID(), release.RecordID())
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, status.Kind)
	assert.Equal(t, uint64(3), r.coordinator.Length())
}

func TestCheckpointPublishesRecords(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	operatorInit := r.bootstrapOperator(t)

	status, err := r.coordinator.RecordStatus(ctx, record.OperatorLogID(), operatorInit.RecordID())
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, status.Kind)

	_, err = r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)

	status, err = r.coordinator.RecordStatus(ctx, record.OperatorLogID(), operatorInit.RecordID())
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, status.Kind)
}

func TestProofs(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	pkg := mustPackageID(t, "ex:pkg")

	operatorInit := r.bootstrapOperator(t)

	checkpoint1, err := r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)

	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)

	checkpoint2, err := r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), checkpoint2.Checkpoint.LogLength)

	t.Run("Inclusion", func(t *testing.T) {
		leaves := []LogLeaf{
			{LogID: record.OperatorLogID(), RecordID: operatorInit.RecordID()},
			{LogID: pkg.LogID(), RecordID: init.RecordID()},
		}

		proofs, err := r.coordinator.ProveInclusion(ctx, 2, leaves)
		require.NoError(t, err)
		require.Len(t, proofs.LogProofs, 2)
		require.Len(t, proofs.MapProofs, 2)

		for i, leaf := range leaves {
			logProof, err := logpkg.UnmarshalInclusionProof(proofs.LogProofs[i])
			require.NoError(t, err)
			assert.True(t, logProof.Evaluate().Equal(checkpoint2.Checkpoint.LogRoot))

			mapProof, err := smap.UnmarshalProof(proofs.MapProofs[i])
			require.NoError(t, err)

			mapRoot, err := mapProof.Evaluate([]byte(leaf.LogID.String()), []byte(leaf.RecordID.String()))
			require.NoError(t, err)
			assert.True(t, mapRoot.Equal(checkpoint2.Checkpoint.MapRoot))
		}
	})

	t.Run("InclusionAgainstOldCheckpoint", func(t *testing.T) {
		// The package record is not committed by checkpoint 1
		_, err := r.coordinator.ProveInclusion(ctx, 1, []LogLeaf{
			{LogID: pkg.LogID(), RecordID: init.RecordID()},
		})
		assert.ErrorIs(t, err, ErrLeafNotCommitted)
	})

	t.Run("Consistency", func(t *testing.T) {
		proofBytes, err := r.coordinator.ProveConsistency(ctx, 1, 2)
		require.NoError(t, err)

		proof, err := logpkg.UnmarshalConsistencyProof(proofBytes)
		require.NoError(t, err)

		oldRoot, newRoot := logpkg.EvaluateConsistency(proof)
		assert.True(t, oldRoot.Equal(checkpoint1.Checkpoint.LogRoot))
		assert.True(t, newRoot.Equal(checkpoint2.Checkpoint.LogRoot))
	})

	t.Run("ConsistencyRequiresCheckpoints", func(t *testing.T) {
		_, err := r.coordinator.ProveConsistency(ctx, 1, 99)
		assert.ErrorIs(t, err, ErrCheckpointNotFound)

		_, err = r.coordinator.ProveConsistency(ctx, 2, 1)
		assert.ErrorIs(t, err, logpkg.ErrPointsOutOfOrder)
	})
}

func TestFetchLeaves(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	operatorInit := r.bootstrapOperator(t)

	leaves, err := r.coordinator.FetchLeaves(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, uint64(0), leaves[0].RegistryIndex)
	assert.True(t, leaves[0].RecordID.Equal(operatorInit.RecordID()))
	assert.True(t, leaves[0].LogID.Equal(record.OperatorLogID()))

	// Past the end yields an empty list
	leaves, err = r.coordinator.FetchLeaves(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestRecovery(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	alice := testKeyPair(t, 1)
	pkg := mustPackageID(t, "ex:pkg")

	r.bootstrapOperator(t)

	init, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, init)
	require.NoError(t, err)

	content := r.putContent(t, []byte("abcd"))
	prev := init.RecordID()
	release, err := record.SignPackageRecord(alice.Signer(), &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.1.0"), ContentDigest: content},
		},
	})
	require.NoError(t, err)
	_, err = r.coordinator.SubmitPackageRecord(ctx, pkg, release)
	require.NoError(t, err)

	checkpoint, err := r.coordinator.Checkpoint(ctx)
	require.NoError(t, err)

	// A fresh coordinator over the same data store rebuilds everything
	recovered := New(r.coordinator.config, r.data, r.blobs, r.operator.Signer())
	require.NoError(t, recovered.Recover(ctx))

	assert.Equal(t, uint64(3), recovered.Length())

	state, ok := recovered.PackageLogState(pkg)
	require.True(t, ok)
	assert.True(t, state.Head().Digest.Equal(release.RecordID()))

	// Proofs against the recovered state still verify
	proofs, err := recovered.ProveInclusion(ctx, 3, []LogLeaf{
		{LogID: pkg.LogID(), RecordID: release.RecordID()},
	})
	require.NoError(t, err)

	logProof, err := logpkg.UnmarshalInclusionProof(proofs.LogProofs[0])
	require.NoError(t, err)
	assert.True(t, logProof.Evaluate().Equal(checkpoint.Checkpoint.LogRoot))
}
