package smap

import (
	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// Terminal marks how the proof walk ended.
type Terminal byte

const (
	// TerminalLeaf marks a walk that reached the key's own leaf
	TerminalLeaf Terminal = iota

	// TerminalEmpty marks a walk that reached an empty slot
	TerminalEmpty

	// TerminalOtherLeaf marks a walk that reached a leaf for a
	// different key sharing the path prefix
	TerminalOtherLeaf
)

// ProofStep is one level of the walk from the root toward the key.
type ProofStep struct {
	// Right reports whether the walk descended to the right child
	Right bool

	// Sibling is the hash of the other child, or nil when absent
	Sibling *hash.Digest
}

// Proof proves the presence or absence of a key in the map.
type Proof struct {
	// Steps of the walk, from the root downward
	Steps []ProofStep

	// How the walk ended
	Terminal Terminal

	// Key and value hashes of the foreign leaf, for TerminalOtherLeaf
	OtherKeyHash   hash.Digest
	OtherValueHash hash.Digest
}

// Prove produces a proof for the position dictated by the key's hash.
// A TerminalLeaf proof demonstrates membership; the other terminals
// demonstrate non-membership.
func (m *Map) Prove(key []byte) *Proof {
	keyHash := hash.New(key)
	proof := &Proof{}

	current := m.root
	depth := 0

	for {
		switch n := current.(type) {
		case nil:
			proof.Terminal = TerminalEmpty
			return proof

		case *leaf:
			if n.keyHash.Equal(keyHash) {
				proof.Terminal = TerminalLeaf
			} else {
				proof.Terminal = TerminalOtherLeaf
				proof.OtherKeyHash = n.keyHash
				proof.OtherValueHash = n.valueHash
			}
			return proof

		case *branch:
			var next, sibling node
			right := keyBit(keyHash, depth) == 1
			if right {
				next, sibling = n.right, n.left
			} else {
				next, sibling = n.left, n.right
			}

			step := ProofStep{Right: right}
			if sibling != nil {
				d := sibling.digest()
				step.Sibling = &d
			}
			proof.Steps = append(proof.Steps, step)

			current = next
			depth++
		}
	}
}

// Evaluate reconstructs the map root for a membership proof over the
// given key and value. Callers verify the result against the root they
// expect.
func (p *Proof) Evaluate(key, value []byte) (hash.Digest, error) {
	if p.Terminal != TerminalLeaf {
		return hash.Digest{}, ErrNotMembershipProof
	}

	bottom := leafHash(hash.New(key), hash.New(value))
	return p.foldUp(&bottom)
}

// EvaluateAbsence reconstructs the map root for a non-membership proof
// of the given key.
func (p *Proof) EvaluateAbsence(key []byte) (hash.Digest, error) {
	switch p.Terminal {
	case TerminalEmpty:
		return p.foldUp(nil)
	case TerminalOtherLeaf:
		keyHash := hash.New(key)
		if p.OtherKeyHash.Equal(keyHash) {
			return hash.Digest{}, ErrNotAbsenceProof
		}
		bottom := leafHash(p.OtherKeyHash, p.OtherValueHash)
		return p.foldUp(&bottom)
	default:
		return hash.Digest{}, ErrNotAbsenceProof
	}
}

// foldUp rehashes from the terminal position back up the recorded path.
// A nil current marks the empty slot the walk ended in.
func (p *Proof) foldUp(current *hash.Digest) (hash.Digest, error) {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := p.Steps[i]

		if current == nil && step.Sibling == nil {
			// A branch with no children cannot exist
			return hash.Digest{}, ErrMalformedProof
		}

		var combined hash.Digest
		if step.Right {
			combined = branchHash(step.Sibling, current)
		} else {
			combined = branchHash(current, step.Sibling)
		}
		current = &combined
	}

	if current == nil {
		// An empty walk over an empty map
		return emptyRoot(), nil
	}

	return *current, nil
}
