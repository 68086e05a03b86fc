package hash

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// DigestCID converts a digest to a CIDv1 with the raw codec.
// The blob store uses CIDs as its on-disk and on-wire naming scheme.
func DigestCID(d Digest) (cid.Cid, error) {
	if d.Algorithm != AlgorithmSHA256 {
		return cid.Undef, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, d.Algorithm)
	}

	mh, err := multihash.Encode(d.Bytes, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to encode multihash: %w", err)
	}

	return cid.NewCidV1(cid.Raw, mh), nil
}

// CIDDigest converts a raw-codec CIDv1 back into a digest.
func CIDDigest(c cid.Cid) (Digest, error) {
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return Digest{}, fmt.Errorf("failed to decode multihash: %w", err)
	}

	if decoded.Code != multihash.SHA2_256 {
		return Digest{}, fmt.Errorf("%w: multihash code %#x", ErrUnsupportedAlgorithm, decoded.Code)
	}

	return Digest{Algorithm: AlgorithmSHA256, Bytes: decoded.Digest}, nil
}
