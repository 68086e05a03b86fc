package signing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	signer := kp.Signer()
	verifier := NewVerifier()

	data := []byte("record content bytes")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	assert.Equal(t, SignatureAlgorithmECDSAP256, sig.Algorithm)
	require.NoError(t, verifier.Verify(kp.Public, data, sig))

	t.Run("TamperedData", func(t *testing.T) {
		err := verifier.Verify(kp.Public, []byte("other content"), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := NewKeyPair()
		require.NoError(t, err)

		err = verifier.Verify(other.Public, data, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestKeyPairFromSeedIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)

	a, err := NewKeyPairFromSeed(seed)
	require.NoError(t, err)

	b, err := NewKeyPairFromSeed(seed)
	require.NoError(t, err)

	assert.True(t, a.Public.Equal(b.Public))
	assert.Equal(t, a.Public.ID(), b.Public.ID())

	_, err = NewKeyPairFromSeed([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	parsed, err := ParsePublicKey(kp.Public.String())
	require.NoError(t, err)
	assert.True(t, kp.Public.Equal(parsed))

	// The key id is stable across re-encoding
	assert.Equal(t, kp.Public.ID(), parsed.ID())
}

func TestParsePublicKeyRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"NoSeparator", "ecdsa-p256AAAA"},
		{"UnknownAlgorithm", "ed25519:AAAA"},
		{"BadBase64", "ecdsa-p256:!!!"},
		{"NotAPoint", "ecdsa-p256:AAAA"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKey(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	kp, err := NewKeyPair()
	require.NoError(t, err)

	sig, err := kp.Signer().Sign([]byte("payload"))
	require.NoError(t, err)

	parsed, err := ParseSignature(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
}
