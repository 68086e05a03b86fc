package smap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyMap(t *testing.T) {
	m := New()

	assert.True(t, m.IsEmpty())
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.Root().Equal(emptyRoot()))

	// Absence is provable in the empty map
	proof := m.Prove([]byte("missing"))
	assert.Equal(t, TerminalEmpty, proof.Terminal)

	root, err := proof.EvaluateAbsence([]byte("missing"))
	require.NoError(t, err)
	assert.True(t, root.Equal(m.Root()))
}

func TestInsertAndProve(t *testing.T) {
	a := New()
	b, isNew := a.Insert([]byte("foo"), []byte("bar"))
	assert.True(t, isNew)
	assert.Equal(t, 1, b.Len())

	// The original map is unchanged
	assert.True(t, a.Root().Equal(emptyRoot()))
	assert.False(t, a.Root().Equal(b.Root()))

	proof := b.Prove([]byte("foo"))
	require.Equal(t, TerminalLeaf, proof.Terminal)

	root, err := proof.Evaluate([]byte("foo"), []byte("bar"))
	require.NoError(t, err)
	assert.True(t, root.Equal(b.Root()))
}

func TestReplaceValue(t *testing.T) {
	m, _ := New().Insert([]byte("k1"), []byte("v1"))
	m, isNew := m.Insert([]byte("k2"), []byte("v2"))
	assert.True(t, isNew)

	// Replacing an existing key does not grow the map
	m2, isNew := m.Insert([]byte("k1"), []byte("v3"))
	assert.False(t, isNew)
	assert.Equal(t, 2, m2.Len())
	assert.False(t, m.Root().Equal(m2.Root()))

	proof := m2.Prove([]byte("k1"))
	root, err := proof.Evaluate([]byte("k1"), []byte("v3"))
	require.NoError(t, err)
	assert.True(t, root.Equal(m2.Root()))

	// The older version still proves the older value
	oldProof := m.Prove([]byte("k1"))
	oldRoot, err := oldProof.Evaluate([]byte("k1"), []byte("v1"))
	require.NoError(t, err)
	assert.True(t, oldRoot.Equal(m.Root()))
}

func TestManyKeysRoundTrip(t *testing.T) {
	m := New()
	const count = 200

	keys := make([][]byte, count)
	values := make([][]byte, count)
	for i := 0; i < count; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		values[i] = []byte(fmt.Sprintf("value-%d", i))

		var isNew bool
		m, isNew = m.Insert(keys[i], values[i])
		require.True(t, isNew)
		require.Equal(t, i+1, m.Len())
	}

	for i := 0; i < count; i++ {
		proof := m.Prove(keys[i])
		require.Equal(t, TerminalLeaf, proof.Terminal, "key %d", i)

		root, err := proof.Evaluate(keys[i], values[i])
		require.NoError(t, err)
		require.True(t, root.Equal(m.Root()), "key %d", i)
	}
}

func TestInsertionOrderIndependence(t *testing.T) {
	pairs := [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"},
	}

	forward := New()
	for _, p := range pairs {
		forward, _ = forward.Insert([]byte(p[0]), []byte(p[1]))
	}

	backward := New()
	for i := len(pairs) - 1; i >= 0; i-- {
		backward, _ = backward.Insert([]byte(pairs[i][0]), []byte(pairs[i][1]))
	}

	assert.True(t, forward.Root().Equal(backward.Root()))
}

func TestNonMembership(t *testing.T) {
	m, _ := New().Insert([]byte("present"), []byte("value"))
	for i := 0; i < 50; i++ {
		m, _ = m.Insert([]byte(fmt.Sprintf("filler-%d", i)), []byte("x"))
	}

	proof := m.Prove([]byte("absent-key"))
	require.NotEqual(t, TerminalLeaf, proof.Terminal)

	root, err := proof.EvaluateAbsence([]byte("absent-key"))
	require.NoError(t, err)
	assert.True(t, root.Equal(m.Root()))

	// A membership evaluation of an absence proof fails
	_, err = proof.Evaluate([]byte("absent-key"), []byte("whatever"))
	assert.ErrorIs(t, err, ErrNotMembershipProof)
}

func TestEvaluateRejectsWrongValue(t *testing.T) {
	m, _ := New().Insert([]byte("k"), []byte("v"))

	proof := m.Prove([]byte("k"))
	root, err := proof.Evaluate([]byte("k"), []byte("wrong"))
	require.NoError(t, err)

	// Evaluation succeeds but yields a different root
	assert.False(t, root.Equal(m.Root()))
}

func TestStructuralSharing(t *testing.T) {
	base := New()
	for i := 0; i < 20; i++ {
		base, _ = base.Insert([]byte(fmt.Sprintf("key-%d", i)), []byte("v"))
	}

	derived, _ := base.Insert([]byte("key-5"), []byte("new"))

	// Base still proves the old value, derived proves the new one
	baseProof := base.Prove([]byte("key-5"))
	baseRoot, err := baseProof.Evaluate([]byte("key-5"), []byte("v"))
	require.NoError(t, err)
	assert.True(t, baseRoot.Equal(base.Root()))

	derivedProof := derived.Prove([]byte("key-5"))
	derivedRoot, err := derivedProof.Evaluate([]byte("key-5"), []byte("new"))
	require.NoError(t, err)
	assert.True(t, derivedRoot.Equal(derived.Root()))
}

func TestProofWire(t *testing.T) {
	m := New()
	for i := 0; i < 30; i++ {
		m, _ = m.Insert([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i)))
	}

	t.Run("Membership", func(t *testing.T) {
		proof := m.Prove([]byte("key-7"))
		decoded, err := UnmarshalProof(MarshalProof(proof))
		require.NoError(t, err)

		root, err := decoded.Evaluate([]byte("key-7"), []byte("value-7"))
		require.NoError(t, err)
		assert.True(t, root.Equal(m.Root()))
	})

	t.Run("NonMembership", func(t *testing.T) {
		proof := m.Prove([]byte("not-there"))
		decoded, err := UnmarshalProof(MarshalProof(proof))
		require.NoError(t, err)

		root, err := decoded.EvaluateAbsence([]byte("not-there"))
		require.NoError(t, err)
		assert.True(t, root.Equal(m.Root()))
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := UnmarshalProof(nil)
		assert.ErrorIs(t, err, ErrMalformedProof)

		_, err = UnmarshalProof([]byte{0x09})
		assert.ErrorIs(t, err, ErrMalformedProof)
	})
}
