package validator

import (
	"bytes"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

func testKeyPair(t *testing.T, seed byte) *signing.KeyPair {
	t.Helper()
	kp, err := signing.NewKeyPairFromSeed(bytes.Repeat([]byte{seed}, signing.SeedSize))
	require.NoError(t, err)
	return kp
}

func signPackage(t *testing.T, kp *signing.KeyPair, r *record.PackageRecord) *record.Envelope {
	t.Helper()
	envelope, err := record.SignPackageRecord(kp.Signer(), r)
	require.NoError(t, err)
	return envelope
}

func mustConstraint(t *testing.T, s string) *semver.Constraints {
	t.Helper()
	c, err := semver.NewConstraint(s)
	require.NoError(t, err)
	return c
}

func TestValidateBaseLog(t *testing.T) {
	alice := testKeyPair(t, 1)
	timestamp := time.Now()

	envelope := signPackage(t, alice, &record.PackageRecord{
		Prev:      nil,
		Version:   record.PackageRecordVersion,
		Timestamp: timestamp,
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})

	state := NewPackageState()
	require.NoError(t, state.Validate(envelope))

	require.NotNil(t, state.Head())
	assert.True(t, state.Head().Digest.Equal(envelope.RecordID()))
	assert.True(t, state.Head().Timestamp.Equal(timestamp))
	assert.True(t, state.Initialized())
	assert.Equal(t, hash.AlgorithmSHA256, state.Algorithm())

	// Init grants the full permission set to the signer
	assert.ElementsMatch(t,
		[]record.Permission{record.PermissionRelease, record.PermissionYank},
		state.Permissions(alice.Public.ID()))

	key, ok := state.PublicKey(alice.Public.ID())
	require.True(t, ok)
	assert.True(t, key.Equal(alice.Public))
}

// Covers the full release lifecycle: init + grant, release by the
// grantee, then revoke + yank by the owner.
func TestValidateLargerLog(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewPackageState()

	// Record 0: alice inits and grants bob release
	timestamp0 := time.Now()
	envelope0 := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: timestamp0,
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
			record.PackageGrantFlat{Key: bob.Public, Permission: record.PermissionRelease},
		},
	})
	require.NoError(t, state.Validate(envelope0))

	// Record 1: bob releases 1.1.0
	timestamp1 := timestamp0.Add(time.Second)
	content := hash.New([]byte("abcd"))
	prev0 := envelope0.RecordID()
	envelope1 := signPackage(t, bob, &record.PackageRecord{
		Prev:      &prev0,
		Version:   record.PackageRecordVersion,
		Timestamp: timestamp1,
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.1.0"), ContentDigest: content},
		},
	})
	require.NoError(t, state.Validate(envelope1))

	release := state.FindLatestRelease(mustConstraint(t, "~1"))
	require.NotNil(t, release)
	assert.Equal(t, "1.1.0", release.Version.String())
	assert.Equal(t, bob.Public.ID(), release.By)
	assert.True(t, release.RecordID.Equal(envelope1.RecordID()))

	got, ok := release.Content()
	require.True(t, ok)
	assert.True(t, got.Equal(content))

	assert.Nil(t, state.FindLatestRelease(mustConstraint(t, "~1.2")))

	// Record 2: alice revokes bob's release permission and yanks 1.1.0
	timestamp2 := timestamp1.Add(time.Second)
	prev1 := envelope1.RecordID()
	envelope2 := signPackage(t, alice, &record.PackageRecord{
		Prev:      &prev1,
		Version:   record.PackageRecordVersion,
		Timestamp: timestamp2,
		Entries: []record.PackageEntry{
			record.PackageRevokeFlat{KeyID: bob.Public.ID(), Permission: record.PermissionRelease},
			record.PackageYank{Version: semver.MustParse("1.1.0")},
		},
	})
	require.NoError(t, state.Validate(envelope2))

	// Yanked releases are excluded from latest-release queries
	assert.Nil(t, state.FindLatestRelease(mustConstraint(t, "~1")))

	// But they are still listed
	releases := state.Releases()
	require.Len(t, releases, 1)
	assert.True(t, releases[0].Yanked())
	assert.Equal(t, alice.Public.ID(), releases[0].State.YankedBy)
	assert.Empty(t, state.Permissions(bob.Public.ID()))

	// Record 3: bob attempts another release after the revoke
	timestamp3 := timestamp2.Add(time.Second)
	prev2 := envelope2.RecordID()
	envelope3 := signPackage(t, bob, &record.PackageRecord{
		Prev:      &prev2,
		Version:   record.PackageRecordVersion,
		Timestamp: timestamp3,
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("3.0.0"), ContentDigest: content},
		},
	})

	err := state.Validate(envelope3)
	ve, ok := IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnauthorizedAction, ve.Code)
	assert.Equal(t, record.PermissionRelease, ve.Permission)
	assert.Equal(t, bob.Public.ID(), ve.KeyID)

	// State unchanged by the rejected record
	assert.True(t, state.Head().Digest.Equal(envelope2.RecordID()))
}

func TestUnknownSignerIsRejected(t *testing.T) {
	alice := testKeyPair(t, 1)
	mallory := testKeyPair(t, 3)
	state := NewPackageState()

	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))

	prev := init.RecordID()
	attempt := signPackage(t, mallory, &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("2.0.0"), ContentDigest: hash.New([]byte("x"))},
		},
	})

	err := state.Validate(attempt)
	ve, ok := IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, CodeKeyIDNotRecognized, ve.Code)

	// The head still points at the init record
	assert.True(t, state.Head().Digest.Equal(init.RecordID()))
}

func TestChainChecks(t *testing.T) {
	alice := testKeyPair(t, 1)
	state := NewPackageState()

	t.Run("PreviousHashOnFirstRecord", func(t *testing.T) {
		bogus := hash.New([]byte("bogus"))
		envelope := signPackage(t, alice, &record.PackageRecord{
			Prev:      &bogus,
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
			},
		})

		ve, ok := IsValidation(state.Validate(envelope))
		require.True(t, ok)
		assert.Equal(t, CodePreviousHashOnFirstRecord, ve.Code)
	})

	// Accept two records, then submit a third whose prev skips the second
	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))

	prev0 := init.RecordID()
	second := signPackage(t, alice, &record.PackageRecord{
		Prev:      &prev0,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: hash.New([]byte("a"))},
		},
	})
	require.NoError(t, state.Validate(second))

	t.Run("RecordHashDoesNotMatch", func(t *testing.T) {
		skipped := signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev0, // skips the second record
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				record.PackageRelease{Version: semver.MustParse("2.0.0"), ContentDigest: hash.New([]byte("b"))},
			},
		})

		ve, ok := IsValidation(state.Validate(skipped))
		require.True(t, ok)
		assert.Equal(t, CodeRecordHashDoesNotMatch, ve.Code)
	})

	t.Run("NoPreviousHashAfterInit", func(t *testing.T) {
		missing := signPackage(t, alice, &record.PackageRecord{
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				record.PackageRelease{Version: semver.MustParse("2.0.0"), ContentDigest: hash.New([]byte("b"))},
			},
		})

		ve, ok := IsValidation(state.Validate(missing))
		require.True(t, ok)
		assert.Equal(t, CodeNoPreviousHashAfterInit, ve.Code)
	})
}

func TestProtocolVersionAndTimestamp(t *testing.T) {
	alice := testKeyPair(t, 1)
	state := NewPackageState()

	t.Run("ProtocolVersionNotAllowed", func(t *testing.T) {
		envelope := signPackage(t, alice, &record.PackageRecord{
			Version:   7,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
			},
		})

		ve, ok := IsValidation(state.Validate(envelope))
		require.True(t, ok)
		assert.Equal(t, CodeProtocolVersionNotAllowed, ve.Code)
		assert.Equal(t, uint32(7), ve.ProtocolVersion)
	})

	timestamp := time.Now()
	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: timestamp,
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))

	t.Run("TimestampLowerThanPrevious", func(t *testing.T) {
		prev := init.RecordID()
		envelope := signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev,
			Version:   record.PackageRecordVersion,
			Timestamp: timestamp.Add(-time.Hour),
			Entries: []record.PackageEntry{
				record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: hash.New([]byte("a"))},
			},
		})

		ve, ok := IsValidation(state.Validate(envelope))
		require.True(t, ok)
		assert.Equal(t, CodeTimestampLowerThanPrevious, ve.Code)
	})

	t.Run("EqualTimestampIsPermitted", func(t *testing.T) {
		prev := init.RecordID()
		envelope := signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev,
			Version:   record.PackageRecordVersion,
			Timestamp: timestamp,
			Entries: []record.PackageEntry{
				record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: hash.New([]byte("a"))},
			},
		})

		require.NoError(t, state.Validate(envelope))
	})
}

func TestReleaseLifecycleErrors(t *testing.T) {
	alice := testKeyPair(t, 1)
	state := NewPackageState()
	content := hash.New([]byte("abcd"))

	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: content},
		},
	})
	require.NoError(t, state.Validate(init))
	head := init.RecordID()

	next := func(entries ...record.PackageEntry) *record.Envelope {
		prev := head
		return signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev,
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries:   entries,
		})
	}

	t.Run("ReleaseOfReleased", func(t *testing.T) {
		ve, ok := IsValidation(state.Validate(next(
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: content},
		)))
		require.True(t, ok)
		assert.Equal(t, CodeReleaseOfReleased, ve.Code)
	})

	t.Run("YankOfUnreleased", func(t *testing.T) {
		ve, ok := IsValidation(state.Validate(next(
			record.PackageYank{Version: semver.MustParse("9.9.9")},
		)))
		require.True(t, ok)
		assert.Equal(t, CodeYankOfUnreleased, ve.Code)
	})

	// Yank 1.0.0 for real
	yank := next(record.PackageYank{Version: semver.MustParse("1.0.0")})
	require.NoError(t, state.Validate(yank))
	head = yank.RecordID()

	t.Run("YankOfYanked", func(t *testing.T) {
		ve, ok := IsValidation(state.Validate(next(
			record.PackageYank{Version: semver.MustParse("1.0.0")},
		)))
		require.True(t, ok)
		assert.Equal(t, CodeYankOfYanked, ve.Code)
	})

	t.Run("RereleaseOfYankedIsRejected", func(t *testing.T) {
		ve, ok := IsValidation(state.Validate(next(
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: content},
		)))
		require.True(t, ok)
		assert.Equal(t, CodeReleaseOfReleased, ve.Code)
	})
}

// A failing record must leave no trace, including entries that
// succeeded before the failing one.
func TestRollback(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewPackageState()
	content := hash.New([]byte("abcd"))

	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: content},
		},
	})
	require.NoError(t, state.Validate(init))
	prev := init.RecordID()

	t.Run("GrantThenFailingRevoke", func(t *testing.T) {
		envelope := signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev,
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				// Valid: grant bob release
				record.PackageGrantFlat{Key: bob.Public, Permission: record.PermissionRelease},
				// Invalid: revoke a permission bob does not hold
				record.PackageRevokeFlat{KeyID: bob.Public.ID(), Permission: record.PermissionYank},
			},
		})

		ve, ok := IsValidation(state.Validate(envelope))
		require.True(t, ok)
		assert.Equal(t, CodePermissionNotFoundToRevoke, ve.Code)

		// Bob's grant was rolled back with the record
		assert.Empty(t, state.Permissions(bob.Public.ID()))
		_, known := state.PublicKey(bob.Public.ID())
		assert.False(t, known)
		assert.True(t, state.Head().Digest.Equal(init.RecordID()))
	})

	t.Run("YankThenFailingEntry", func(t *testing.T) {
		envelope := signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev,
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				// Valid: yank 1.0.0
				record.PackageYank{Version: semver.MustParse("1.0.0")},
				// Invalid: yank it again in the same record
				record.PackageYank{Version: semver.MustParse("1.0.0")},
			},
		})

		ve, ok := IsValidation(state.Validate(envelope))
		require.True(t, ok)
		assert.Equal(t, CodeYankOfYanked, ve.Code)

		// The yank of the first entry was rolled back
		releases := state.Releases()
		require.Len(t, releases, 1)
		assert.False(t, releases[0].Yanked())
	})

	t.Run("ReleaseAndYankInFailingRecord", func(t *testing.T) {
		envelope := signPackage(t, alice, &record.PackageRecord{
			Prev:      &prev,
			Version:   record.PackageRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.PackageEntry{
				record.PackageRelease{Version: semver.MustParse("2.0.0"), ContentDigest: content},
				record.PackageYank{Version: semver.MustParse("2.0.0")},
				record.PackageYank{Version: semver.MustParse("9.9.9")},
			},
		})

		ve, ok := IsValidation(state.Validate(envelope))
		require.True(t, ok)
		assert.Equal(t, CodeYankOfUnreleased, ve.Code)

		// 2.0.0 must not exist in any state
		_, exists := state.Release(semver.MustParse("2.0.0"))
		assert.False(t, exists)
		require.Len(t, state.Releases(), 1)
	})
}

// An entry that revokes a permission required by a later entry in the
// same record causes the whole record to be rejected.
func TestPermissionMonotonicityWithinRecord(t *testing.T) {
	alice := testKeyPair(t, 1)
	state := NewPackageState()

	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))
	prev := init.RecordID()

	envelope := signPackage(t, alice, &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageRevokeFlat{KeyID: alice.Public.ID(), Permission: record.PermissionRelease},
			record.PackageRelease{Version: semver.MustParse("1.0.0"), ContentDigest: hash.New([]byte("a"))},
		},
	})

	ve, ok := IsValidation(state.Validate(envelope))
	require.True(t, ok)
	assert.Equal(t, CodeUnauthorizedAction, ve.Code)

	// And the revoke itself was rolled back
	assert.ElementsMatch(t,
		[]record.Permission{record.PermissionRelease, record.PermissionYank},
		state.Permissions(alice.Public.ID()))
}

func TestSecondInitIsRejected(t *testing.T) {
	alice := testKeyPair(t, 1)
	state := NewPackageState()

	init := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))
	prev := init.RecordID()

	envelope := signPackage(t, alice, &record.PackageRecord{
		Prev:      &prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})

	ve, ok := IsValidation(state.Validate(envelope))
	require.True(t, ok)
	assert.Equal(t, CodeInitialEntryAfterBeginning, ve.Code)
}

func TestEmptyFirstRecordDoesNotInit(t *testing.T) {
	alice := testKeyPair(t, 1)
	state := NewPackageState()

	envelope := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries:   nil,
	})

	ve, ok := IsValidation(state.Validate(envelope))
	require.True(t, ok)
	assert.Equal(t, CodeInitialRecordDoesNotInit, ve.Code)
}

func TestBadSignatureIsRejected(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewPackageState()

	envelope := signPackage(t, alice, &record.PackageRecord{
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})

	// Swap in a signature from another key over the same content
	other, err := bob.Signer().Sign(envelope.ContentBytes)
	require.NoError(t, err)
	envelope.Signature = other

	ve, ok := IsValidation(state.Validate(envelope))
	require.True(t, ok)
	assert.Equal(t, CodeBadSignature, ve.Code)
	assert.False(t, state.Initialized())
}
