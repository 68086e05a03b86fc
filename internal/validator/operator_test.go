package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

func signOperator(t *testing.T, kp *signing.KeyPair, r *record.OperatorRecord) *record.Envelope {
	t.Helper()
	envelope, err := record.SignOperatorRecord(kp.Signer(), r)
	require.NoError(t, err)
	return envelope
}

func TestOperatorInitAndGrant(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewOperatorState()

	init := signOperator(t, alice, &record.OperatorRecord{
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))

	assert.True(t, state.Initialized())
	assert.Equal(t, hash.AlgorithmSHA256, state.Algorithm())
	assert.ElementsMatch(t, []record.Permission{record.PermissionCommit}, state.Permissions(alice.Public.ID()))

	// Alice grants bob commit
	prev := init.RecordID()
	grant := signOperator(t, alice, &record.OperatorRecord{
		Prev:      &prev,
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorGrantFlat{Key: bob.Public, Permission: record.PermissionCommit},
		},
	})
	require.NoError(t, state.Validate(grant))

	assert.ElementsMatch(t, []record.Permission{record.PermissionCommit}, state.Permissions(bob.Public.ID()))

	key, ok := state.PublicKey(bob.Public.ID())
	require.True(t, ok)
	assert.True(t, key.Equal(bob.Public))
}

func TestOperatorRevoke(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewOperatorState()

	init := signOperator(t, alice, &record.OperatorRecord{
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
			record.OperatorGrantFlat{Key: bob.Public, Permission: record.PermissionCommit},
		},
	})
	require.NoError(t, state.Validate(init))

	prev := init.RecordID()
	revoke := signOperator(t, alice, &record.OperatorRecord{
		Prev:      &prev,
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorRevokeFlat{KeyID: bob.Public.ID(), Permission: record.PermissionCommit},
		},
	})
	require.NoError(t, state.Validate(revoke))
	assert.Empty(t, state.Permissions(bob.Public.ID()))

	t.Run("RevokeOfAbsentPermission", func(t *testing.T) {
		prev := revoke.RecordID()
		again := signOperator(t, alice, &record.OperatorRecord{
			Prev:      &prev,
			Version:   record.OperatorRecordVersion,
			Timestamp: time.Now(),
			Entries: []record.OperatorEntry{
				record.OperatorRevokeFlat{KeyID: bob.Public.ID(), Permission: record.PermissionCommit},
			},
		})

		ve, ok := IsValidation(state.Validate(again))
		require.True(t, ok)
		assert.Equal(t, CodePermissionNotFoundToRevoke, ve.Code)

		// State unchanged
		assert.True(t, state.Head().Digest.Equal(revoke.RecordID()))
	})
}

func TestOperatorFirstEntryMustInit(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewOperatorState()

	envelope := signOperator(t, alice, &record.OperatorRecord{
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorGrantFlat{Key: bob.Public, Permission: record.PermissionCommit},
		},
	})

	// The grant's permission pre-check fires before the init check:
	// nothing is granted yet, so the signer is unknown
	ve, ok := IsValidation(state.Validate(envelope))
	require.True(t, ok)
	assert.Equal(t, CodeKeyIDNotRecognized, ve.Code)
	assert.False(t, state.Initialized())
}

func TestOperatorRollbackOnFailure(t *testing.T) {
	alice := testKeyPair(t, 1)
	bob := testKeyPair(t, 2)
	state := NewOperatorState()

	init := signOperator(t, alice, &record.OperatorRecord{
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorInit{HashAlgorithm: hash.AlgorithmSHA256, Key: alice.Public},
		},
	})
	require.NoError(t, state.Validate(init))

	prev := init.RecordID()
	envelope := signOperator(t, alice, &record.OperatorRecord{
		Prev:      &prev,
		Version:   record.OperatorRecordVersion,
		Timestamp: time.Now(),
		Entries: []record.OperatorEntry{
			record.OperatorGrantFlat{Key: bob.Public, Permission: record.PermissionCommit},
			record.OperatorRevokeFlat{KeyID: "not-a-key", Permission: record.PermissionCommit},
		},
	})

	ve, ok := IsValidation(state.Validate(envelope))
	require.True(t, ok)
	assert.Equal(t, CodePermissionNotFoundToRevoke, ve.Code)

	assert.Empty(t, state.Permissions(bob.Public.ID()))
	_, known := state.PublicKey(bob.Public.ID())
	assert.False(t, known)
	assert.True(t, state.Head().Digest.Equal(init.RecordID()))
}
