package smap

import (
	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// Map is a persistent sparse Merkle map with inclusion proofs.
//
// The bits of a key's hash index a path from the root; only nodes on
// active paths are materialized. Each insert produces a new map sharing
// unchanged subtrees with its predecessor.
type Map struct {
	root node
	size int
}

// New creates an empty map.
func New() *Map {
	return &Map{}
}

// Root returns the hash of the root of the map.
// This uniquely identifies the map and its contents.
func (m *Map) Root() hash.Digest {
	if m.root == nil {
		return emptyRoot()
	}
	return m.root.digest()
}

// Len returns the number of keys in the map.
func (m *Map) Len() int {
	return m.size
}

// IsEmpty reports whether the map has no keys.
func (m *Map) IsEmpty() bool {
	return m.size == 0
}

// Insert inserts a value for a key, producing a new map. Any existing
// value for the key is replaced. The second return reports whether the
// key was not previously present.
func (m *Map) Insert(key, value []byte) (*Map, bool) {
	keyHash := hash.New(key)
	valueHash := hash.New(value)

	root, isNew := insertNode(m.root, keyHash, valueHash, 0)

	size := m.size
	if isNew {
		size++
	}

	return &Map{root: root, size: size}, isNew
}

func insertNode(n node, keyHash, valueHash hash.Digest, depth int) (node, bool) {
	switch current := n.(type) {
	case nil:
		return newLeaf(keyHash, valueHash), true

	case *leaf:
		if current.keyHash.Equal(keyHash) {
			return newLeaf(keyHash, valueHash), false
		}
		// Split at the first differing bit with the shortest branch chain
		return splitLeaves(current, newLeaf(keyHash, valueHash), depth), true

	case *branch:
		if keyBit(keyHash, depth) == 0 {
			child, isNew := insertNode(current.left, keyHash, valueHash, depth+1)
			return newBranch(child, current.right), isNew
		}
		child, isNew := insertNode(current.right, keyHash, valueHash, depth+1)
		return newBranch(current.left, child), isNew

	default:
		panic("unknown map node type")
	}
}

// splitLeaves builds the branch chain separating two leaves whose key
// hashes first differ at or below the given depth.
func splitLeaves(existing, inserted *leaf, depth int) node {
	existingBit := keyBit(existing.keyHash, depth)
	insertedBit := keyBit(inserted.keyHash, depth)

	if existingBit != insertedBit {
		if insertedBit == 0 {
			return newBranch(inserted, existing)
		}
		return newBranch(existing, inserted)
	}

	child := splitLeaves(existing, inserted, depth+1)
	if existingBit == 0 {
		return newBranch(child, nil)
	}
	return newBranch(nil, child)
}
