package keyring

import (
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// Keyring stores labeled signing keys and per-registry auth tokens.
// Clients use it for submission signing; the operator uses it for
// checkpoint signing.
type Keyring interface {
	// SigningKey returns the key pair stored under a label
	SigningKey(label string) (*signing.KeyPair, error)

	// SetSigningKey stores a key pair under a label, replacing any
	// existing key
	SetSigningKey(label string, seed []byte) error

	// DeleteSigningKey removes the key stored under a label
	DeleteSigningKey(label string) error

	// AuthToken returns the auth token for a registry host
	AuthToken(host string) (string, error)

	// SetAuthToken stores the auth token for a registry host
	SetAuthToken(host, token string) error

	// Close cleanly shuts down the keyring
	Close() error
}
