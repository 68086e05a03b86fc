package record

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// Permission is a capability a key may hold on a log.
type Permission string

const (
	// PermissionCommit allows committing registry checkpoints (operator logs)
	PermissionCommit Permission = "commit"

	// PermissionRelease allows releasing package versions (package logs)
	PermissionRelease Permission = "release"

	// PermissionYank allows yanking package releases (package logs)
	PermissionYank Permission = "yank"
)

// ParsePermission parses a permission tag.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionCommit, PermissionRelease, PermissionYank:
		return Permission(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
}

// OperatorPermissions is the full permission set for an operator log.
func OperatorPermissions() []Permission {
	return []Permission{PermissionCommit}
}

// PackagePermissions is the full permission set for a package log.
func PackagePermissions() []Permission {
	return []Permission{PermissionRelease, PermissionYank}
}

// Entry type tags used in the canonical encoding.
const (
	entryTypeInit       = "init"
	entryTypeGrantFlat  = "grantFlat"
	entryTypeRevokeFlat = "revokeFlat"
	entryTypeRelease    = "release"
	entryTypeYank       = "yank"
)

// entryJSON is the canonical encoding of a single record entry.
// Exactly the fields relevant to the entry type are populated.
type entryJSON struct {
	Type          string `json:"type"`
	HashAlgorithm string `json:"hashAlgorithm,omitempty"`
	Key           string `json:"key,omitempty"`
	KeyID         string `json:"keyId,omitempty"`
	Permission    string `json:"permission,omitempty"`
	Version       string `json:"version,omitempty"`
	ContentDigest string `json:"contentDigest,omitempty"`
}

// recordJSON is the canonical encoding of a record.
type recordJSON struct {
	Prev      string      `json:"prev,omitempty"`
	Version   uint32      `json:"version"`
	Timestamp string      `json:"timestamp"`
	Entries   []entryJSON `json:"entries"`
}

// timestampFormat is the canonical timestamp encoding. RFC 3339 with
// nanoseconds, always UTC.
const timestampFormat = time.RFC3339Nano

func encodeTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}

func decodeTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp: %v", ErrMalformed, err)
	}
	return t, nil
}

func encodePrev(prev *hash.Digest) string {
	if prev == nil {
		return ""
	}
	return prev.String()
}

func decodePrev(s string) (*hash.Digest, error) {
	if s == "" {
		return nil, nil
	}

	d, err := hash.ParseDigest(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad previous record digest: %v", ErrMalformed, err)
	}
	return &d, nil
}

func decodeKey(s string) (signing.PublicKey, error) {
	key, err := signing.ParsePublicKey(s)
	if err != nil {
		return signing.PublicKey{}, fmt.Errorf("%w: bad public key: %v", ErrMalformed, err)
	}
	return key, nil
}

func decodePermission(s string) (Permission, error) {
	p, err := ParsePermission(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

func decodeVersion(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad version %q: %v", ErrMalformed, s, err)
	}
	return v, nil
}

func decodeAlgorithm(s string) (hash.Algorithm, error) {
	a, err := hash.ParseAlgorithm(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return a, nil
}

func decodeContentDigest(s string) (hash.Digest, error) {
	d, err := hash.ParseDigest(s)
	if err != nil {
		return hash.Digest{}, fmt.Errorf("%w: bad content digest: %v", ErrMalformed, err)
	}
	return d, nil
}
