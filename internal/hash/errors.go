package hash

import "errors"

var (
	// ErrUnsupportedAlgorithm indicates an unknown hash algorithm tag
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

	// ErrMalformedDigest indicates a digest string that does not parse
	ErrMalformedDigest = errors.New("malformed digest")
)
