package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// SignatureAlgorithm identifies a supported signature scheme.
// The tag is persisted alongside signatures and public keys.
type SignatureAlgorithm string

const (
	// SignatureAlgorithmECDSAP256 is ECDSA over NIST P-256 with SHA-256,
	// the only scheme currently defined.
	SignatureAlgorithmECDSAP256 SignatureAlgorithm = "ecdsa-p256"
)

// SeedSize is the number of bytes required to derive a key pair deterministically.
const SeedSize = 32

// KeyID identifies a public key. It is the textual form of the digest of
// the key's canonical encoding.
type KeyID string

// PublicKey is an algorithm-tagged ECDSA public key.
type PublicKey struct {
	Algorithm SignatureAlgorithm
	Key       *ecdsa.PublicKey
}

// Signature is an algorithm-tagged raw signature byte string.
type Signature struct {
	Algorithm SignatureAlgorithm
	Bytes     []byte
}

// KeyPair holds an ECDSA P-256 key pair.
type KeyPair struct {
	Public  PublicKey
	private *ecdsa.PrivateKey
}

// NewKeyPair generates a new ECDSA P-256 key pair.
func NewKeyPair() (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key pair: %w", err)
	}

	return &KeyPair{
		Public:  PublicKey{Algorithm: SignatureAlgorithmECDSAP256, Key: &key.PublicKey},
		private: key,
	}, nil
}

// NewKeyPairFromSeed derives a key pair deterministically from a 32-byte seed.
// Used for reproducible fixtures; the derivation reduces the seed digest
// into the curve's scalar field.
func NewKeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSeed, SeedSize, len(seed))
	}

	curve := elliptic.P256()
	sum := sha256.Sum256(seed)

	// Reduce into [1, N-1]
	d := new(big.Int).SetBytes(sum[:])
	nMinusOne := new(big.Int).Sub(curve.Params().N, big.NewInt(1))
	d.Mod(d, nMinusOne)
	d.Add(d, big.NewInt(1))

	key := new(ecdsa.PrivateKey)
	key.Curve = curve
	key.D = d
	key.X, key.Y = curve.ScalarBaseMult(d.Bytes())

	return &KeyPair{
		Public:  PublicKey{Algorithm: SignatureAlgorithmECDSAP256, Key: &key.PublicKey},
		private: key,
	}, nil
}

// Signer returns a signer backed by this key pair.
func (kp *KeyPair) Signer() Signer {
	return &ecdsaSigner{keyPair: kp}
}

// String returns the canonical textual encoding of the public key:
// "<algorithm>:<base64 of the compressed SEC1 point>".
func (p PublicKey) String() string {
	compressed := elliptic.MarshalCompressed(p.Key.Curve, p.Key.X, p.Key.Y)
	return fmt.Sprintf("%s:%s", p.Algorithm, base64.StdEncoding.EncodeToString(compressed))
}

// ID returns the key id: the digest of the canonical public key encoding.
func (p PublicKey) ID() KeyID {
	return KeyID(hash.New([]byte(p.String())).String())
}

// Equal reports whether two public keys are the same key.
func (p PublicKey) Equal(other PublicKey) bool {
	return p.Algorithm == other.Algorithm && p.Key.Equal(other.Key)
}

// ParsePublicKey parses the canonical textual encoding of a public key.
func ParsePublicKey(s string) (PublicKey, error) {
	algo, rest, found := strings.Cut(s, ":")
	if !found {
		return PublicKey{}, fmt.Errorf("%w: missing algorithm separator", ErrInvalidPublicKey)
	}

	if SignatureAlgorithm(algo) != SignatureAlgorithmECDSAP256 {
		return PublicKey{}, fmt.Errorf("%w: %q", ErrUnsupportedSignatureAlgorithm, algo)
	}

	compressed, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, compressed)
	if x == nil {
		return PublicKey{}, fmt.Errorf("%w: not a point on P-256", ErrInvalidPublicKey)
	}

	return PublicKey{
		Algorithm: SignatureAlgorithmECDSAP256,
		Key:       &ecdsa.PublicKey{Curve: curve, X: x, Y: y},
	}, nil
}

// MarshalJSON encodes the public key as its canonical textual form.
func (p PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the public key from its canonical textual form.
func (p *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParsePublicKey(s)
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}

// String returns the textual form "<algorithm>:<base64>".
func (s Signature) String() string {
	return fmt.Sprintf("%s:%s", s.Algorithm, base64.StdEncoding.EncodeToString(s.Bytes))
}

// ParseSignature parses the textual signature form.
func ParseSignature(text string) (Signature, error) {
	algo, rest, found := strings.Cut(text, ":")
	if !found {
		return Signature{}, fmt.Errorf("%w: missing algorithm separator", ErrInvalidSignature)
	}

	if SignatureAlgorithm(algo) != SignatureAlgorithmECDSAP256 {
		return Signature{}, fmt.Errorf("%w: %q", ErrUnsupportedSignatureAlgorithm, algo)
	}

	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return Signature{Algorithm: SignatureAlgorithmECDSAP256, Bytes: raw}, nil
}

// MarshalJSON encodes the signature as its textual form.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the signature from its textual form.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}

	parsed, err := ParseSignature(text)
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// ecdsaSigner signs content with an ECDSA P-256 private key.
type ecdsaSigner struct {
	keyPair *KeyPair
}

// Sign signs data with ECDSA P-256 over SHA-256, producing an ASN.1 DER signature.
func (s *ecdsaSigner) Sign(data []byte) (Signature, error) {
	if s.keyPair == nil || s.keyPair.private == nil {
		return Signature{}, ErrNoPrivateKey
	}

	sum := sha256.Sum256(data)
	raw, err := ecdsa.SignASN1(rand.Reader, s.keyPair.private, sum[:])
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign: %w", err)
	}

	return Signature{Algorithm: SignatureAlgorithmECDSAP256, Bytes: raw}, nil
}

// PublicKey returns the signer's public key.
func (s *ecdsaSigner) PublicKey() PublicKey {
	return s.keyPair.Public
}

// KeyID returns the signer's key id.
func (s *ecdsaSigner) KeyID() KeyID {
	return s.keyPair.Public.ID()
}

// ECDSAVerifier verifies ECDSA P-256 signatures.
type ECDSAVerifier struct{}

// NewVerifier creates a new verifier.
func NewVerifier() *ECDSAVerifier {
	return &ECDSAVerifier{}
}

// Verify checks sig over data with the given public key.
func (v *ECDSAVerifier) Verify(key PublicKey, data []byte, sig Signature) error {
	if key.Algorithm != SignatureAlgorithmECDSAP256 || sig.Algorithm != SignatureAlgorithmECDSAP256 {
		return fmt.Errorf("%w: key %q, signature %q", ErrUnsupportedSignatureAlgorithm, key.Algorithm, sig.Algorithm)
	}

	sum := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(key.Key, sum[:], sig.Bytes) {
		return ErrInvalidSignature
	}

	return nil
}
