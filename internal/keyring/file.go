package keyring

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// FileKeyring stores keys and tokens in a JSON file with 0600 permissions.
type FileKeyring struct {
	path string

	mu     sync.Mutex
	data   *keyringFile
	closed bool
}

// keyringFile is the on-disk layout.
type keyringFile struct {
	// Seeds of signing keys by label, base64-encoded
	Keys map[string]string `json:"keys"`

	// Auth tokens by registry host
	Tokens map[string]string `json:"tokens"`
}

// NewFileKeyring opens or creates a file-backed keyring at path.
func NewFileKeyring(path string) (*FileKeyring, error) {
	k := &FileKeyring{
		path: path,
		data: &keyringFile{
			Keys:   make(map[string]string),
			Tokens: make(map[string]string),
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read keyring: %w", err)
		}
		return k, nil
	}

	if err := json.Unmarshal(raw, k.data); err != nil {
		return nil, fmt.Errorf("failed to parse keyring: %w", err)
	}
	if k.data.Keys == nil {
		k.data.Keys = make(map[string]string)
	}
	if k.data.Tokens == nil {
		k.data.Tokens = make(map[string]string)
	}

	return k, nil
}

func (k *FileKeyring) save() error {
	raw, err := json.MarshalIndent(k.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode keyring: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return fmt.Errorf("failed to create keyring directory: %w", err)
	}

	return os.WriteFile(k.path, raw, 0600)
}

// SigningKey implements Keyring.SigningKey.
func (k *FileKeyring) SigningKey(label string) (*signing.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, ErrClosed
	}

	encoded, ok := k.data.Keys[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, label)
	}

	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored key %q: %w", label, err)
	}

	return signing.NewKeyPairFromSeed(seed)
}

// SetSigningKey implements Keyring.SetSigningKey.
func (k *FileKeyring) SetSigningKey(label string, seed []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}

	// Reject seeds that cannot derive a key
	if _, err := signing.NewKeyPairFromSeed(seed); err != nil {
		return err
	}

	k.data.Keys[label] = base64.StdEncoding.EncodeToString(seed)
	return k.save()
}

// DeleteSigningKey implements Keyring.DeleteSigningKey.
func (k *FileKeyring) DeleteSigningKey(label string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}

	if _, ok := k.data.Keys[label]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, label)
	}

	delete(k.data.Keys, label)
	return k.save()
}

// AuthToken implements Keyring.AuthToken.
func (k *FileKeyring) AuthToken(host string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return "", ErrClosed
	}

	token, ok := k.data.Tokens[host]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTokenNotFound, host)
	}

	return token, nil
}

// SetAuthToken implements Keyring.SetAuthToken.
func (k *FileKeyring) SetAuthToken(host, token string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}

	k.data.Tokens[host] = token
	return k.save()
}

// Close implements Keyring.Close.
func (k *FileKeyring) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.closed = true
	return nil
}
