package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// PackageRecordVersion is the protocol version for package records.
const PackageRecordVersion uint32 = 0

// PackageRecord is a record against a package log.
type PackageRecord struct {
	// Digest of the previous record in the log; nil for the first record
	Prev *hash.Digest

	// Protocol version of the record
	Version uint32

	// Client-declared timestamp of the record
	Timestamp time.Time

	// Entries declared by the record, in order
	Entries []PackageEntry
}

// PackageEntry is a single action within a package record.
type PackageEntry interface {
	// RequiredPermission returns the permission the signer must hold
	// for this entry, if any
	RequiredPermission() (Permission, bool)

	packageEntry()
}

// PackageInit initializes a package log.
type PackageInit struct {
	// Hash algorithm declared for the log
	HashAlgorithm hash.Algorithm

	// Initial key of the log
	Key signing.PublicKey
}

// PackageGrantFlat grants a permission to a key.
type PackageGrantFlat struct {
	Key        signing.PublicKey
	Permission Permission
}

// PackageRevokeFlat revokes a permission from a key.
type PackageRevokeFlat struct {
	KeyID      signing.KeyID
	Permission Permission
}

// PackageRelease declares a release of a version with its content digest.
type PackageRelease struct {
	Version       *semver.Version
	ContentDigest hash.Digest
}

// PackageYank marks a released version as yanked.
type PackageYank struct {
	Version *semver.Version
}

func (PackageInit) packageEntry()       {}
func (PackageGrantFlat) packageEntry()  {}
func (PackageRevokeFlat) packageEntry() {}
func (PackageRelease) packageEntry()    {}
func (PackageYank) packageEntry()       {}

// RequiredPermission implements PackageEntry.
func (PackageInit) RequiredPermission() (Permission, bool) {
	return "", false
}

// RequiredPermission implements PackageEntry.
func (e PackageGrantFlat) RequiredPermission() (Permission, bool) {
	return e.Permission, true
}

// RequiredPermission implements PackageEntry.
func (e PackageRevokeFlat) RequiredPermission() (Permission, bool) {
	return e.Permission, true
}

// RequiredPermission implements PackageEntry.
func (PackageRelease) RequiredPermission() (Permission, bool) {
	return PermissionRelease, true
}

// RequiredPermission implements PackageEntry.
func (PackageYank) RequiredPermission() (Permission, bool) {
	return PermissionYank, true
}

// ContentDigests returns the content digests referenced by the record's
// release entries. The coordinator holds a record pending until every one
// of these is present in the content store.
func (r *PackageRecord) ContentDigests() []hash.Digest {
	var digests []hash.Digest
	for _, entry := range r.Entries {
		if release, ok := entry.(PackageRelease); ok {
			digests = append(digests, release.ContentDigest)
		}
	}
	return digests
}

// Encode produces the canonical byte form of the record.
func (r *PackageRecord) Encode() ([]byte, error) {
	encoded := recordJSON{
		Prev:      encodePrev(r.Prev),
		Version:   r.Version,
		Timestamp: encodeTimestamp(r.Timestamp),
		Entries:   make([]entryJSON, 0, len(r.Entries)),
	}

	for _, entry := range r.Entries {
		switch e := entry.(type) {
		case PackageInit:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:          entryTypeInit,
				HashAlgorithm: e.HashAlgorithm.String(),
				Key:           e.Key.String(),
			})
		case PackageGrantFlat:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:       entryTypeGrantFlat,
				Key:        e.Key.String(),
				Permission: string(e.Permission),
			})
		case PackageRevokeFlat:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:       entryTypeRevokeFlat,
				KeyID:      string(e.KeyID),
				Permission: string(e.Permission),
			})
		case PackageRelease:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:          entryTypeRelease,
				Version:       e.Version.String(),
				ContentDigest: e.ContentDigest.String(),
			})
		case PackageYank:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:    entryTypeYank,
				Version: e.Version.String(),
			})
		default:
			return nil, fmt.Errorf("%w: %T", ErrInvalidEntryType, entry)
		}
	}

	return CanonicalizeJSON(&encoded)
}

// DecodePackageRecord decodes the canonical byte form of a package record.
// Only canonical bytes are accepted, so re-encoding a decoded record
// yields bit-identical bytes.
func DecodePackageRecord(data []byte) (*PackageRecord, error) {
	if err := ValidateCanonicalJSON(data); err != nil {
		return nil, err
	}

	var decoded recordJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	prev, err := decodePrev(decoded.Prev)
	if err != nil {
		return nil, err
	}

	timestamp, err := decodeTimestamp(decoded.Timestamp)
	if err != nil {
		return nil, err
	}

	r := &PackageRecord{
		Prev:      prev,
		Version:   decoded.Version,
		Timestamp: timestamp,
		Entries:   make([]PackageEntry, 0, len(decoded.Entries)),
	}

	for _, entry := range decoded.Entries {
		parsed, err := decodePackageEntry(entry)
		if err != nil {
			return nil, err
		}
		r.Entries = append(r.Entries, parsed)
	}

	// Reject bytes whose decoded form does not re-encode identically
	reencoded, err := r.Encode()
	if err != nil || !bytes.Equal(reencoded, data) {
		return nil, fmt.Errorf("%w: content bytes do not re-encode identically", ErrMalformed)
	}

	return r, nil
}

func decodePackageEntry(entry entryJSON) (PackageEntry, error) {
	switch entry.Type {
	case entryTypeInit:
		algorithm, err := decodeAlgorithm(entry.HashAlgorithm)
		if err != nil {
			return nil, err
		}
		key, err := decodeKey(entry.Key)
		if err != nil {
			return nil, err
		}
		return PackageInit{HashAlgorithm: algorithm, Key: key}, nil

	case entryTypeGrantFlat:
		key, err := decodeKey(entry.Key)
		if err != nil {
			return nil, err
		}
		permission, err := decodePermission(entry.Permission)
		if err != nil {
			return nil, err
		}
		return PackageGrantFlat{Key: key, Permission: permission}, nil

	case entryTypeRevokeFlat:
		permission, err := decodePermission(entry.Permission)
		if err != nil {
			return nil, err
		}
		return PackageRevokeFlat{KeyID: signing.KeyID(entry.KeyID), Permission: permission}, nil

	case entryTypeRelease:
		version, err := decodeVersion(entry.Version)
		if err != nil {
			return nil, err
		}
		content, err := decodeContentDigest(entry.ContentDigest)
		if err != nil {
			return nil, err
		}
		return PackageRelease{Version: version, ContentDigest: content}, nil

	case entryTypeYank:
		version, err := decodeVersion(entry.Version)
		if err != nil {
			return nil, err
		}
		return PackageYank{Version: version}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntryType, entry.Type)
	}
}