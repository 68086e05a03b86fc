package log

import (
	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// ProofStep is one sibling on the path from a leaf to a root.
type ProofStep struct {
	// Side the sibling hash sits on
	Side Side

	// The sibling hash
	Hash hash.Digest
}

// InclusionProof proves that a leaf is present under a root.
type InclusionProof struct {
	// Hash of the proven leaf
	Leaf hash.Digest

	// Sibling steps from the leaf up to the root
	Path []ProofStep
}

// Evaluate reconstructs the root from the leaf and the path.
// Callers verify that the result matches the root they expect.
func (p *InclusionProof) Evaluate() hash.Digest {
	current := p.Leaf
	for _, step := range p.Path {
		if step.Side == SideLeft {
			current = BranchHash(step.Hash, current)
		} else {
			current = BranchHash(current, step.Hash)
		}
	}
	return current
}

// ProveInclusion produces an inclusion proof for a leaf hash against a
// historical root.
func (l *Log) ProveInclusion(root, leaf hash.Digest) (*InclusionProof, error) {
	length, ok := l.LengthForRoot(root)
	if !ok {
		return nil, ErrRootNotKnown
	}
	return l.ProveInclusionAt(length, leaf)
}

// ProveInclusionAt produces an inclusion proof for a leaf hash against
// the root at a historical length.
func (l *Log) ProveInclusionAt(length uint64, leaf hash.Digest) (*InclusionProof, error) {
	currentNode, ok := l.leafNode(leaf)
	if !ok {
		return nil, ErrLeafNotKnown
	}

	if !currentNode.ExistsAtLength(length) {
		return nil, ErrLeafTooNew
	}

	broots := BrootsForLen(length)
	isBroot := func(n Node) bool {
		for _, broot := range broots {
			if broot == n {
				return true
			}
		}
		return false
	}

	var path []ProofStep

	// Walk upwards until a balanced root of the target tree is reached
	for !isBroot(currentNode) {
		sibling := currentNode.Sibling()
		path = append(path, ProofStep{Side: sibling.SideOf(), Hash: l.tree[sibling.Index()]})
		currentNode = currentNode.Parent()
	}

	// Fold the broots to the right of the reached one into a single
	// summary hash and append it as a right-side step
	reached := 0
	for i, broot := range broots {
		if broot == currentNode {
			reached = i
			break
		}
	}

	if reached < len(broots)-1 {
		summary := l.tree[broots[len(broots)-1].Index()]
		for i := len(broots) - 2; i > reached; i-- {
			summary = BranchHash(l.tree[broots[i].Index()], summary)
		}
		path = append(path, ProofStep{Side: SideRight, Hash: summary})
	}

	// Emit each taller broot to the left, from closest outward
	for i := reached - 1; i >= 0; i-- {
		path = append(path, ProofStep{Side: SideLeft, Hash: l.tree[broots[i].Index()]})
	}

	return &InclusionProof{Leaf: leaf, Path: path}, nil
}

// ConsistencyProof proves that one log root is a prefix of another.
// It is a closed recursive sum of OldRoot, NewHash, and Hybrid nodes.
type ConsistencyProof interface {
	consistencyProof()
}

// OldRoot is a subtree that already existed in full at the old length.
type OldRoot struct {
	Hash hash.Digest
}

// NewHash is a subtree containing no leaf of the old length.
type NewHash struct {
	Hash hash.Digest
}

// Hybrid is a subtree straddling the old length boundary.
type Hybrid struct {
	Left  ConsistencyProof
	Right ConsistencyProof
}

func (OldRoot) consistencyProof() {}
func (NewHash) consistencyProof() {}
func (Hybrid) consistencyProof()  {}

// EvaluateConsistency reconstructs the old and new roots from a
// consistency proof. Callers verify both against their expectations.
// A proof whose old side is empty evaluates to the empty log root.
func EvaluateConsistency(proof ConsistencyProof) (oldRoot, newRoot hash.Digest) {
	old, newRoot := evaluateConsistencyNode(proof)
	if old == nil {
		return EmptyRoot(), newRoot
	}
	return *old, newRoot
}

func evaluateConsistencyNode(proof ConsistencyProof) (*hash.Digest, hash.Digest) {
	switch p := proof.(type) {
	case OldRoot:
		// Contributes to both sides
		return &p.Hash, p.Hash
	case NewHash:
		// Contributes only to the new side
		return nil, p.Hash
	case Hybrid:
		leftOld, leftNew := evaluateConsistencyNode(p.Left)
		rightOld, rightNew := evaluateConsistencyNode(p.Right)

		newHash := BranchHash(leftNew, rightNew)

		// The old roots fold right-to-left just like broots
		switch {
		case leftOld == nil:
			return rightOld, newHash
		case rightOld == nil:
			return leftOld, newHash
		default:
			combined := BranchHash(*leftOld, *rightOld)
			return &combined, newHash
		}
	default:
		panic("unknown consistency proof node")
	}
}

// ProveConsistency produces a consistency proof between two historical roots.
func (l *Log) ProveConsistency(oldRoot, newRoot hash.Digest) (ConsistencyProof, error) {
	oldLength, ok := l.LengthForRoot(oldRoot)
	if !ok {
		return nil, ErrRootNotKnown
	}

	newLength, ok := l.LengthForRoot(newRoot)
	if !ok {
		return nil, ErrRootNotKnown
	}

	return l.ProveConsistencyAt(oldLength, newLength)
}

// ProveConsistencyAt produces a consistency proof between the roots at
// two historical lengths.
func (l *Log) ProveConsistencyAt(oldLength, newLength uint64) (ConsistencyProof, error) {
	// A log cannot be a consistent subset of a shorter log
	if oldLength > newLength {
		return nil, ErrPointsOutOfOrder
	}

	if newLength > l.length {
		return nil, ErrLengthTooNew
	}

	broots := BrootsForLen(newLength)
	if len(broots) == 0 {
		return nil, ErrEmptyLog
	}

	// Combine per-broot proofs right-to-left with Hybrid
	proof := l.consistencyProofNode(broots[len(broots)-1], oldLength)
	for i := len(broots) - 2; i >= 0; i-- {
		proof = Hybrid{Left: l.consistencyProofNode(broots[i], oldLength), Right: proof}
	}

	return proof, nil
}

func (l *Log) consistencyProofNode(node Node, oldLength uint64) ConsistencyProof {
	if node.ExistsAtLength(oldLength) {
		return OldRoot{Hash: l.tree[node.Index()]}
	}

	if node.HasChildrenAtLength(oldLength) {
		left, right := node.Children()
		return Hybrid{
			Left:  l.consistencyProofNode(left, oldLength),
			Right: l.consistencyProofNode(right, oldLength),
		}
	}

	return NewHash{Hash: l.tree[node.Index()]}
}
