package testutil

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// TestKey is a deterministic signing identity for tests.
type TestKey struct {
	KeyPair *signing.KeyPair
	Signer  signing.Signer
}

// NewTestKey derives a deterministic test key from a single seed byte.
func NewTestKey(seed byte) (*TestKey, error) {
	keyPair, err := signing.NewKeyPairFromSeed(bytes.Repeat([]byte{seed}, signing.SeedSize))
	if err != nil {
		return nil, err
	}

	return &TestKey{KeyPair: keyPair, Signer: keyPair.Signer()}, nil
}

// KeyID returns the key id of the test key.
func (k *TestKey) KeyID() signing.KeyID {
	return k.KeyPair.Public.ID()
}

// PackageLogBuilder accumulates signed package records forming a valid
// hash chain, for driving validators and coordinators in tests.
type PackageLogBuilder struct {
	head      *hash.Digest
	timestamp time.Time
	envelopes []*record.Envelope
}

// NewPackageLogBuilder creates a builder starting at the given time.
func NewPackageLogBuilder(start time.Time) *PackageLogBuilder {
	return &PackageLogBuilder{timestamp: start}
}

// Append signs a record with the given entries, chaining it onto the
// previous record and advancing the timestamp.
func (b *PackageLogBuilder) Append(key *TestKey, entries ...record.PackageEntry) (*record.Envelope, error) {
	envelope, err := record.SignPackageRecord(key.Signer, &record.PackageRecord{
		Prev:      b.head,
		Version:   record.PackageRecordVersion,
		Timestamp: b.timestamp,
		Entries:   entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign test record: %w", err)
	}

	id := envelope.RecordID()
	b.head = &id
	b.timestamp = b.timestamp.Add(time.Second)
	b.envelopes = append(b.envelopes, envelope)

	return envelope, nil
}

// Head returns the record id of the last appended record.
func (b *PackageLogBuilder) Head() *hash.Digest {
	return b.head
}

// Envelopes returns every appended envelope in order.
func (b *PackageLogBuilder) Envelopes() []*record.Envelope {
	return b.envelopes
}

// InitEntry builds a package init entry for a key.
func InitEntry(key *TestKey) record.PackageEntry {
	return record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: key.KeyPair.Public}
}

// ReleaseEntry builds a release entry for a version and content bytes.
func ReleaseEntry(version string, content []byte) record.PackageEntry {
	return record.PackageRelease{
		Version:       semver.MustParse(version),
		ContentDigest: hash.New(content),
	}
}

// YankEntry builds a yank entry for a version.
func YankEntry(version string) record.PackageEntry {
	return record.PackageYank{Version: semver.MustParse(version)}
}
