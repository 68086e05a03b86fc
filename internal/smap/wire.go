package smap

import (
	"crypto/sha256"
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// Wire layout: one terminal byte, the foreign leaf hashes when the
// terminal requires them, then one byte plus an optional hash per step.
// Step bytes pack the direction in bit 0 and sibling presence in bit 1.

const (
	wireTerminalLeaf      = byte(0x00)
	wireTerminalEmpty     = byte(0x01)
	wireTerminalOtherLeaf = byte(0x02)

	wireStepRight          = byte(0b01)
	wireStepSiblingPresent = byte(0b10)
)

// MarshalProof serializes a map proof deterministically.
func MarshalProof(p *Proof) []byte {
	var buf []byte

	switch p.Terminal {
	case TerminalLeaf:
		buf = append(buf, wireTerminalLeaf)
	case TerminalEmpty:
		buf = append(buf, wireTerminalEmpty)
	case TerminalOtherLeaf:
		buf = append(buf, wireTerminalOtherLeaf)
		buf = append(buf, p.OtherKeyHash.Bytes...)
		buf = append(buf, p.OtherValueHash.Bytes...)
	}

	for _, step := range p.Steps {
		var tag byte
		if step.Right {
			tag |= wireStepRight
		}
		if step.Sibling != nil {
			tag |= wireStepSiblingPresent
		}
		buf = append(buf, tag)
		if step.Sibling != nil {
			buf = append(buf, step.Sibling.Bytes...)
		}
	}

	return buf
}

// UnmarshalProof deserializes a map proof.
func UnmarshalProof(data []byte) (*Proof, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedProof)
	}

	proof := &Proof{}
	rest := data[1:]

	switch data[0] {
	case wireTerminalLeaf:
		proof.Terminal = TerminalLeaf
	case wireTerminalEmpty:
		proof.Terminal = TerminalEmpty
	case wireTerminalOtherLeaf:
		proof.Terminal = TerminalOtherLeaf
		if len(rest) < 2*sha256.Size {
			return nil, fmt.Errorf("%w: truncated foreign leaf", ErrMalformedProof)
		}
		proof.OtherKeyHash = wireDigest(rest[:sha256.Size])
		proof.OtherValueHash = wireDigest(rest[sha256.Size : 2*sha256.Size])
		rest = rest[2*sha256.Size:]
	default:
		return nil, fmt.Errorf("%w: unknown terminal %#x", ErrMalformedProof, data[0])
	}

	for len(rest) > 0 {
		tag := rest[0]
		rest = rest[1:]

		if tag&^(wireStepRight|wireStepSiblingPresent) != 0 {
			return nil, fmt.Errorf("%w: unknown step tag %#x", ErrMalformedProof, tag)
		}

		step := ProofStep{Right: tag&wireStepRight != 0}
		if tag&wireStepSiblingPresent != 0 {
			if len(rest) < sha256.Size {
				return nil, fmt.Errorf("%w: truncated sibling hash", ErrMalformedProof)
			}
			d := wireDigest(rest[:sha256.Size])
			step.Sibling = &d
			rest = rest[sha256.Size:]
		}

		proof.Steps = append(proof.Steps, step)
	}

	return proof, nil
}

func wireDigest(raw []byte) hash.Digest {
	return hash.Digest{Algorithm: hash.AlgorithmSHA256, Bytes: append([]byte(nil), raw...)}
}
