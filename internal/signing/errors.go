package signing

import "errors"

var (
	// ErrNoPrivateKey indicates no private key is available for signing
	ErrNoPrivateKey = errors.New("no private key available")

	// ErrInvalidSignature indicates the signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPublicKey indicates the public key encoding is invalid
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrUnsupportedSignatureAlgorithm indicates an unknown signature algorithm tag
	ErrUnsupportedSignatureAlgorithm = errors.New("unsupported signature algorithm")

	// ErrInvalidSeed indicates a seed of the wrong size
	ErrInvalidSeed = errors.New("invalid seed")
)
