package record

import (
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// Envelope wraps the canonical content bytes of a record together with
// the signing key id and the signature over exactly those bytes.
//
// The envelope's identity is the digest over ContentBytes. Verification
// always takes the stored bytes, never a re-serialization.
type Envelope struct {
	// Canonical byte form of the wrapped record
	ContentBytes []byte `json:"contentBytes"`

	// Id of the key that signed the content bytes
	KeyID signing.KeyID `json:"keyId"`

	// Signature over the content bytes
	Signature signing.Signature `json:"signature"`
}

// RecordID returns the digest identifying the envelope's record.
func (e *Envelope) RecordID() RecordID {
	return hash.New(e.ContentBytes)
}

// Verify checks the envelope signature over the stored content bytes.
func (e *Envelope) Verify(key signing.PublicKey) error {
	return signing.NewVerifier().Verify(key, e.ContentBytes, e.Signature)
}

// SignOperatorRecord encodes and signs an operator record.
func SignOperatorRecord(signer signing.Signer, r *OperatorRecord) (*Envelope, error) {
	content, err := r.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode operator record: %w", err)
	}
	return signContent(signer, content)
}

// SignPackageRecord encodes and signs a package record.
func SignPackageRecord(signer signing.Signer, r *PackageRecord) (*Envelope, error) {
	content, err := r.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode package record: %w", err)
	}
	return signContent(signer, content)
}

func signContent(signer signing.Signer, content []byte) (*Envelope, error) {
	sig, err := signer.Sign(content)
	if err != nil {
		return nil, fmt.Errorf("failed to sign record: %w", err)
	}

	return &Envelope{
		ContentBytes: content,
		KeyID:        signer.KeyID(),
		Signature:    sig,
	}, nil
}
