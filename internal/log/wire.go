package log

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// Proof bundles are deterministic byte serializations that a verifier
// reconstructs roots from without additional metadata. All hashes on the
// wire are SHA-256 and carry no per-hash algorithm tag.

// Wire tags for consistency proof nodes.
const (
	wireOldRoot = byte(0x00)
	wireNewHash = byte(0x01)
	wireHybrid  = byte(0x02)
)

// Wire tags for proof step sides.
const (
	wireSideLeft  = byte(0x00)
	wireSideRight = byte(0x01)
)

// MarshalInclusionProof serializes an inclusion proof: the leaf hash
// followed by each (side, hash) step.
func MarshalInclusionProof(p *InclusionProof) []byte {
	buf := make([]byte, 0, sha256.Size+len(p.Path)*(1+sha256.Size))
	buf = append(buf, p.Leaf.Bytes...)
	for _, step := range p.Path {
		if step.Side == SideLeft {
			buf = append(buf, wireSideLeft)
		} else {
			buf = append(buf, wireSideRight)
		}
		buf = append(buf, step.Hash.Bytes...)
	}
	return buf
}

// UnmarshalInclusionProof deserializes an inclusion proof.
func UnmarshalInclusionProof(data []byte) (*InclusionProof, error) {
	if len(data) < sha256.Size {
		return nil, fmt.Errorf("%w: truncated leaf hash", ErrMalformedProof)
	}

	proof := &InclusionProof{Leaf: wireDigest(data[:sha256.Size])}
	rest := data[sha256.Size:]

	for len(rest) > 0 {
		if len(rest) < 1+sha256.Size {
			return nil, fmt.Errorf("%w: truncated proof step", ErrMalformedProof)
		}

		var side Side
		switch rest[0] {
		case wireSideLeft:
			side = SideLeft
		case wireSideRight:
			side = SideRight
		default:
			return nil, fmt.Errorf("%w: unknown side tag %#x", ErrMalformedProof, rest[0])
		}

		proof.Path = append(proof.Path, ProofStep{Side: side, Hash: wireDigest(rest[1 : 1+sha256.Size])})
		rest = rest[1+sha256.Size:]
	}

	return proof, nil
}

// MarshalConsistencyProof serializes a consistency proof recursively.
func MarshalConsistencyProof(p ConsistencyProof) []byte {
	var buf bytes.Buffer
	marshalConsistencyNode(&buf, p)
	return buf.Bytes()
}

func marshalConsistencyNode(buf *bytes.Buffer, p ConsistencyProof) {
	switch node := p.(type) {
	case OldRoot:
		buf.WriteByte(wireOldRoot)
		buf.Write(node.Hash.Bytes)
	case NewHash:
		buf.WriteByte(wireNewHash)
		buf.Write(node.Hash.Bytes)
	case Hybrid:
		buf.WriteByte(wireHybrid)
		marshalConsistencyNode(buf, node.Left)
		marshalConsistencyNode(buf, node.Right)
	}
}

// UnmarshalConsistencyProof deserializes a consistency proof.
func UnmarshalConsistencyProof(data []byte) (ConsistencyProof, error) {
	proof, rest, err := unmarshalConsistencyNode(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedProof, len(rest))
	}
	return proof, nil
}

func unmarshalConsistencyNode(data []byte) (ConsistencyProof, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: truncated consistency proof", ErrMalformedProof)
	}

	switch data[0] {
	case wireOldRoot, wireNewHash:
		if len(data) < 1+sha256.Size {
			return nil, nil, fmt.Errorf("%w: truncated hash node", ErrMalformedProof)
		}
		digest := wireDigest(data[1 : 1+sha256.Size])
		rest := data[1+sha256.Size:]
		if data[0] == wireOldRoot {
			return OldRoot{Hash: digest}, rest, nil
		}
		return NewHash{Hash: digest}, rest, nil

	case wireHybrid:
		left, rest, err := unmarshalConsistencyNode(data[1:])
		if err != nil {
			return nil, nil, err
		}
		right, rest, err := unmarshalConsistencyNode(rest)
		if err != nil {
			return nil, nil, err
		}
		return Hybrid{Left: left, Right: right}, rest, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown node tag %#x", ErrMalformedProof, data[0])
	}
}

func wireDigest(raw []byte) hash.Digest {
	return hash.Digest{Algorithm: hash.AlgorithmSHA256, Bytes: append([]byte(nil), raw...)}
}
