package signing

// Signer signs raw content bytes on behalf of a single key.
type Signer interface {
	// Sign signs the given data and returns the signature
	Sign(data []byte) (Signature, error)

	// PublicKey returns the public key associated with this signer
	PublicKey() PublicKey

	// KeyID returns the key id of the signer's public key
	KeyID() KeyID
}

// Verifier verifies signatures against public keys.
type Verifier interface {
	// Verify checks the signature over data; returns ErrInvalidSignature
	// when the signature does not verify
	Verify(key PublicKey, data []byte, sig Signature) error
}
