package keyring

import "errors"

var (
	// ErrKeyNotFound indicates no key is stored under the label
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrTokenNotFound indicates no auth token is stored for the host
	ErrTokenNotFound = errors.New("auth token not found")

	// ErrClosed indicates the keyring has been closed
	ErrClosed = errors.New("keyring is closed")
)
