package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Algorithm identifies a supported hash algorithm.
// The tag is persisted in records and checked on every comparison.
type Algorithm string

const (
	// AlgorithmSHA256 is the only algorithm currently defined.
	AlgorithmSHA256 Algorithm = "sha-256"
)

// ParseAlgorithm parses a textual algorithm tag.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmSHA256:
		return AlgorithmSHA256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// Size returns the digest size in bytes for the algorithm.
func (a Algorithm) Size() int {
	switch a {
	case AlgorithmSHA256:
		return sha256.Size
	default:
		return 0
	}
}

// Digest digests the given data with the algorithm.
func (a Algorithm) Digest(data []byte) Digest {
	switch a {
	case AlgorithmSHA256:
		sum := sha256.Sum256(data)
		return Digest{Algorithm: a, Bytes: sum[:]}
	default:
		panic(fmt.Sprintf("unsupported hash algorithm %q", a))
	}
}

// String returns the textual tag of the algorithm.
func (a Algorithm) String() string {
	return string(a)
}

// Digest is an algorithm-tagged hash value.
//
// Digests compare structurally: two digests are equal only when both
// the algorithm tag and the raw bytes match.
type Digest struct {
	Algorithm Algorithm
	Bytes     []byte
}

// New computes the SHA-256 digest of data.
func New(data []byte) Digest {
	return AlgorithmSHA256.Digest(data)
}

// ParseDigest parses the textual form "<algo>:<hex>".
func ParseDigest(s string) (Digest, error) {
	algo, rest, found := strings.Cut(s, ":")
	if !found {
		return Digest{}, fmt.Errorf("%w: missing algorithm separator in %q", ErrMalformedDigest, s)
	}

	algorithm, err := ParseAlgorithm(algo)
	if err != nil {
		return Digest{}, err
	}

	// Only the lowercase hex form is accepted, so that parsing and
	// emission are exact inverses.
	if rest != strings.ToLower(rest) {
		return Digest{}, fmt.Errorf("%w: digest hex must be lowercase", ErrMalformedDigest)
	}

	raw, err := hex.DecodeString(rest)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}

	if len(raw) != algorithm.Size() {
		return Digest{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedDigest, algorithm.Size(), len(raw))
	}

	return Digest{Algorithm: algorithm, Bytes: raw}, nil
}

// MustParseDigest parses a digest and panics on error. For tests and constants.
func MustParseDigest(s string) Digest {
	d, err := ParseDigest(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the textual form "<algo>:<hex-lowercase>".
func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, hex.EncodeToString(d.Bytes))
}

// Equal reports whether two digests have the same algorithm and bytes.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Bytes, other.Bytes)
}

// IsZero reports whether the digest is the zero value.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && len(d.Bytes) == 0
}

// MarshalJSON encodes the digest as its textual form.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes the digest from its textual form.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}

	*d = parsed
	return nil
}
