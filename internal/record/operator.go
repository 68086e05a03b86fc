package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// OperatorRecordVersion is the protocol version for operator records.
const OperatorRecordVersion uint32 = 0

// OperatorRecord is a record against the operator log.
type OperatorRecord struct {
	// Digest of the previous record in the log; nil for the first record
	Prev *hash.Digest

	// Protocol version of the record
	Version uint32

	// Client-declared timestamp of the record
	Timestamp time.Time

	// Entries declared by the record, in order
	Entries []OperatorEntry
}

// OperatorEntry is a single action within an operator record.
type OperatorEntry interface {
	// RequiredPermission returns the permission the signer must hold
	// for this entry, if any
	RequiredPermission() (Permission, bool)

	operatorEntry()
}

// OperatorInit initializes the operator log.
type OperatorInit struct {
	// Hash algorithm declared for the log
	HashAlgorithm hash.Algorithm

	// Initial key of the log
	Key signing.PublicKey
}

// OperatorGrantFlat grants a permission to a key.
type OperatorGrantFlat struct {
	Key        signing.PublicKey
	Permission Permission
}

// OperatorRevokeFlat revokes a permission from a key.
type OperatorRevokeFlat struct {
	KeyID      signing.KeyID
	Permission Permission
}

func (OperatorInit) operatorEntry()       {}
func (OperatorGrantFlat) operatorEntry()  {}
func (OperatorRevokeFlat) operatorEntry() {}

// RequiredPermission implements OperatorEntry.
func (OperatorInit) RequiredPermission() (Permission, bool) {
	return "", false
}

// RequiredPermission implements OperatorEntry.
func (e OperatorGrantFlat) RequiredPermission() (Permission, bool) {
	return e.Permission, true
}

// RequiredPermission implements OperatorEntry.
func (e OperatorRevokeFlat) RequiredPermission() (Permission, bool) {
	return e.Permission, true
}

// Encode produces the canonical byte form of the record.
func (r *OperatorRecord) Encode() ([]byte, error) {
	encoded := recordJSON{
		Prev:      encodePrev(r.Prev),
		Version:   r.Version,
		Timestamp: encodeTimestamp(r.Timestamp),
		Entries:   make([]entryJSON, 0, len(r.Entries)),
	}

	for _, entry := range r.Entries {
		switch e := entry.(type) {
		case OperatorInit:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:          entryTypeInit,
				HashAlgorithm: e.HashAlgorithm.String(),
				Key:           e.Key.String(),
			})
		case OperatorGrantFlat:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:       entryTypeGrantFlat,
				Key:        e.Key.String(),
				Permission: string(e.Permission),
			})
		case OperatorRevokeFlat:
			encoded.Entries = append(encoded.Entries, entryJSON{
				Type:       entryTypeRevokeFlat,
				KeyID:      string(e.KeyID),
				Permission: string(e.Permission),
			})
		default:
			return nil, fmt.Errorf("%w: %T", ErrInvalidEntryType, entry)
		}
	}

	return CanonicalizeJSON(&encoded)
}

// DecodeOperatorRecord decodes the canonical byte form of an operator record.
// Only canonical bytes are accepted, so re-encoding a decoded record
// yields bit-identical bytes.
func DecodeOperatorRecord(data []byte) (*OperatorRecord, error) {
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

	r := &OperatorRecord{
		Prev:      prev,
		Version:   decoded.Version,
		Timestamp: timestamp,
		Entries:   make([]OperatorEntry, 0, len(decoded.Entries)),
	}

	for _, entry := range decoded.Entries {
		parsed, err := decodeOperatorEntry(entry)
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

func decodeOperatorEntry(entry entryJSON) (OperatorEntry, error) {
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
		return OperatorInit{HashAlgorithm: algorithm, Key: key}, nil

	case entryTypeGrantFlat:
		key, err := decodeKey(entry.Key)
		if err != nil {
			return nil, err
		}
		permission, err := decodePermission(entry.Permission)
		if err != nil {
			return nil, err
		}
		return OperatorGrantFlat{Key: key, Permission: permission}, nil

	case entryTypeRevokeFlat:
		permission, err := decodePermission(entry.Permission)
		if err != nil {
			return nil, err
		}
		return OperatorRevokeFlat{KeyID: signing.KeyID(entry.KeyID), Permission: permission}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntryType, entry.Type)
	}
}
