package log

import (
	"crypto/sha256"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// Domain separators preventing second-preimage attacks across the
// leaf/branch boundary.
const (
	leafTag   = byte(0x00)
	branchTag = byte(0x01)
)

// LeafHash computes the hash of a leaf entry: H(0x00 || entry).
func LeafHash(entry []byte) hash.Digest {
	h := sha256.New()
	h.Write([]byte{leafTag})
	h.Write(entry)
	return hash.Digest{Algorithm: hash.AlgorithmSHA256, Bytes: h.Sum(nil)}
}

// BranchHash computes the hash of a branch: H(0x01 || left || right).
func BranchHash(left, right hash.Digest) hash.Digest {
	h := sha256.New()
	h.Write([]byte{branchTag})
	h.Write(left.Bytes)
	h.Write(right.Bytes)
	return hash.Digest{Algorithm: hash.AlgorithmSHA256, Bytes: h.Sum(nil)}
}

// EmptyRoot returns the root of the empty log: the hash of the empty input.
func EmptyRoot() hash.Digest {
	return hash.New(nil)
}

// Log is an append-only Merkle tree log over binary in-order numbering.
//
// Push is single-threaded: a root obtained before a push does not reflect
// that push, and a root obtained after it reflects all prior pushes.
// Callers requiring concurrent access hold their own lock.
type Log struct {
	// Number of leaf entries
	length uint64

	// The tree array in in-order numbering. Odd indices hold branch
	// hashes once their subtree completes; until then they are spacers.
	tree []hash.Digest

	// Length of the log at each historical root
	rootCache map[string]uint64

	// Node index of the oldest occurrence of each leaf hash.
	// Keeping the oldest occurrence allows proving inclusion in older
	// roots when a leaf value repeats.
	leafCache map[string]Node
}

// New creates an empty log.
func New() *Log {
	l := &Log{
		rootCache: make(map[string]uint64),
		leafCache: make(map[string]Node),
	}
	l.rootCache[EmptyRoot().String()] = 0
	return l
}

// Length returns the number of leaves in the log.
func (l *Log) Length() uint64 {
	return l.length
}

// Push appends an entry to the log and returns its leaf hash.
func (l *Log) Push(entry []byte) hash.Digest {
	leafDigest := LeafHash(entry)

	// Push spacer (if necessary) and the leaf digest
	if l.length != 0 {
		l.tree = append(l.tree, hash.Digest{})
	}
	leafNode := Node(uint64(len(l.tree)))
	l.tree = append(l.tree, leafDigest)
	l.length++

	// Fill in newly known branch hashes
	currentDigest := leafDigest
	currentNode := leafNode
	for currentNode.SideOf() == SideRight {
		sibling := currentNode.LeftSibling()
		parent := currentNode.Parent()

		currentDigest = BranchHash(l.tree[sibling.Index()], currentDigest)
		currentNode = parent
		l.tree[currentNode.Index()] = currentDigest
	}

	// First write wins: the oldest index for a leaf hash stays cached
	if _, exists := l.leafCache[leafDigest.String()]; !exists {
		l.leafCache[leafDigest.String()] = leafNode
	}

	l.rootCache[l.Root().String()] = l.length

	return leafDigest
}

// Root returns the current root of the log.
func (l *Log) Root() hash.Digest {
	return l.RootAt(l.length)
}

// RootAt returns the root of the log at a historical length.
// Branch nodes of any completed prefix never change, so the root of any
// prefix of the current log can be recomputed from the tree array.
func (l *Log) RootAt(length uint64) hash.Digest {
	broots := BrootsForLen(length)
	if len(broots) == 0 {
		return EmptyRoot()
	}

	// Fold right-to-left, combining each next left broot with the
	// running accumulator
	acc := l.tree[broots[len(broots)-1].Index()]
	for i := len(broots) - 2; i >= 0; i-- {
		acc = BranchHash(l.tree[broots[i].Index()], acc)
	}

	return acc
}

// LengthForRoot looks up the historical length a root corresponds to.
func (l *Log) LengthForRoot(root hash.Digest) (uint64, bool) {
	length, ok := l.rootCache[root.String()]
	return length, ok
}

// leafNode looks up the oldest node position of a leaf hash.
func (l *Log) leafNode(leaf hash.Digest) (Node, bool) {
	node, ok := l.leafCache[leaf.String()]
	return node, ok
}
