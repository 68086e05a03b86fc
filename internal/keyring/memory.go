package keyring

import (
	"fmt"
	"sync"

	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// MemoryKeyring is an in-memory keyring for tests and ephemeral deployments.
type MemoryKeyring struct {
	mu     sync.Mutex
	keys   map[string][]byte
	tokens map[string]string
	closed bool
}

// NewMemoryKeyring creates an empty in-memory keyring.
func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{
		keys:   make(map[string][]byte),
		tokens: make(map[string]string),
	}
}

// SigningKey implements Keyring.SigningKey.
func (k *MemoryKeyring) SigningKey(label string) (*signing.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, ErrClosed
	}

	seed, ok := k.keys[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, label)
	}

	return signing.NewKeyPairFromSeed(seed)
}

// SetSigningKey implements Keyring.SetSigningKey.
func (k *MemoryKeyring) SetSigningKey(label string, seed []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}

	if _, err := signing.NewKeyPairFromSeed(seed); err != nil {
		return err
	}

	k.keys[label] = append([]byte(nil), seed...)
	return nil
}

// DeleteSigningKey implements Keyring.DeleteSigningKey.
func (k *MemoryKeyring) DeleteSigningKey(label string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}

	if _, ok := k.keys[label]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, label)
	}

	delete(k.keys, label)
	return nil
}

// AuthToken implements Keyring.AuthToken.
func (k *MemoryKeyring) AuthToken(host string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return "", ErrClosed
	}

	token, ok := k.tokens[host]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTokenNotFound, host)
	}

	return token, nil
}

// SetAuthToken implements Keyring.SetAuthToken.
func (k *MemoryKeyring) SetAuthToken(host, token string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}

	k.tokens[host] = token
	return nil
}

// Close implements Keyring.Close.
func (k *MemoryKeyring) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.closed = true
	return nil
}
