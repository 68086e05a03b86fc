package validator

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// ReleaseStatus tags the lifecycle state of a release.
type ReleaseStatus string

const (
	// ReleaseStatusReleased marks a release that is currently available
	ReleaseStatusReleased ReleaseStatus = "released"

	// ReleaseStatusYanked marks a release that has been yanked
	ReleaseStatusYanked ReleaseStatus = "yanked"
)

// ReleaseState is the current state of a release. Exactly the fields
// relevant to the status are populated.
type ReleaseState struct {
	Status ReleaseStatus

	// Content digest of the release, when released
	Content hash.Digest

	// Key id that yanked the release and when, when yanked
	YankedBy signing.KeyID
	YankedAt time.Time
}

// Release describes a release known to a package log.
type Release struct {
	// Id of the record that released the version
	RecordID record.RecordID

	// The released version
	Version *semver.Version

	// Key id that released the version
	By signing.KeyID

	// Timestamp of the releasing record
	Timestamp time.Time

	// Current state of the release
	State ReleaseState
}

// Yanked reports whether the release has been yanked.
func (r *Release) Yanked() bool {
	return r.State.Status == ReleaseStatusYanked
}

// Content returns the content digest of the release.
// The second return is false when the release has been yanked.
func (r *Release) Content() (hash.Digest, bool) {
	if r.Yanked() {
		return hash.Digest{}, false
	}
	return r.State.Content, true
}

// releaseMap is an insertion-ordered map from version string to release.
type releaseMap struct {
	order    []string
	byString map[string]*Release
}

func newReleaseMap() releaseMap {
	return releaseMap{byString: make(map[string]*Release)}
}

func (m *releaseMap) get(version string) (*Release, bool) {
	r, ok := m.byString[version]
	return r, ok
}

func (m *releaseMap) insert(r *Release) {
	key := r.Version.String()
	if _, exists := m.byString[key]; !exists {
		m.order = append(m.order, key)
	}
	m.byString[key] = r
}

func (m *releaseMap) len() int {
	return len(m.order)
}

func (m *releaseMap) truncate(n int) {
	for _, key := range m.order[n:] {
		delete(m.byString, key)
	}
	m.order = m.order[:n]
}

// PackageState validates records of a single package log, applied in log order.
type PackageState struct {
	// Hash algorithm declared by the log's init entry; empty until then
	algorithm hash.Algorithm

	// Last accepted record, nil before the first
	head *Head

	// Permissions held by each key, in grant order
	permissions permissionMap

	// Releases of the package, in log order
	releases releaseMap

	// Public keys known to the log, in introduction order
	keys keyMap

	// Journal of release states overwritten during the current attempt,
	// replayed on rollback
	yankJournal []Release
}

// NewPackageState creates an empty package log validator.
func NewPackageState() *PackageState {
	return &PackageState{
		permissions: newPermissionMap(),
		releases:    newReleaseMap(),
		keys:        newKeyMap(),
	}
}

// Head returns the last accepted record, or nil if none.
func (s *PackageState) Head() *Head {
	return s.head
}

// Initialized reports whether the log's init entry has been accepted.
func (s *PackageState) Initialized() bool {
	return s.algorithm != ""
}

// Algorithm returns the hash algorithm declared by the log.
func (s *PackageState) Algorithm() hash.Algorithm {
	return s.algorithm
}

// PublicKey returns the public key for a key id known to the log.
func (s *PackageState) PublicKey(id signing.KeyID) (signing.PublicKey, bool) {
	return s.keys.get(id)
}

// Permissions returns the permissions currently held by a key.
func (s *PackageState) Permissions(id signing.KeyID) []record.Permission {
	set, _ := s.permissions.get(id)
	return append([]record.Permission(nil), set...)
}

// Releases returns the releases known to the log, in log order.
// Yanked releases are included.
func (s *PackageState) Releases() []*Release {
	releases := make([]*Release, 0, s.releases.len())
	for _, version := range s.releases.order {
		releases = append(releases, s.releases.byString[version])
	}
	return releases
}

// Release returns the release with the given version, if any.
func (s *PackageState) Release(version *semver.Version) (*Release, bool) {
	return s.releases.get(version.String())
}

// FindLatestRelease finds the latest release matching the constraint.
// Yanked releases are not considered.
func (s *PackageState) FindLatestRelease(constraint *semver.Constraints) *Release {
	var latest *Release
	for _, version := range s.releases.order {
		release := s.releases.byString[version]
		if release.Yanked() || !constraint.Check(release.Version) {
			continue
		}
		if latest == nil || release.Version.GreaterThan(latest.Version) {
			latest = release
		}
	}
	return latest
}

// packageSnapshot captures the rollback point for a validation attempt.
type packageSnapshot struct {
	algorithm   hash.Algorithm
	head        *Head
	keys        int
	permissions int
	releases    int
	permSets    map[signing.KeyID][]record.Permission
}

// Validate validates a single package record envelope.
//
// It is expected that Validate is called in order of the records in the
// log. The operation is transactional: if any entry fails to validate,
// the state remains unchanged.
func (s *PackageState) Validate(envelope *record.Envelope) error {
	snapshot := s.snapshot()

	if err := s.validateRecord(envelope); err != nil {
		s.rollback(snapshot)
		return err
	}

	s.yankJournal = nil
	return nil
}

func (s *PackageState) snapshot() packageSnapshot {
	var head *Head
	if s.head != nil {
		h := *s.head
		head = &h
	}

	s.yankJournal = nil

	return packageSnapshot{
		algorithm:   s.algorithm,
		head:        head,
		keys:        s.keys.len(),
		permissions: s.permissions.len(),
		releases:    s.releases.len(),
		permSets:    s.permissions.clone(),
	}
}

func (s *PackageState) rollback(snapshot packageSnapshot) {
	s.algorithm = snapshot.algorithm
	s.head = snapshot.head
	s.keys.truncate(snapshot.keys)
	s.permissions.restore(snapshot.permissions, snapshot.permSets)
	// Restore releases whose state was overwritten by a yank entry,
	// then drop releases first introduced by this attempt
	for i := len(s.yankJournal) - 1; i >= 0; i-- {
		prior := s.yankJournal[i]
		s.releases.insert(&prior)
	}
	s.yankJournal = nil
	s.releases.truncate(snapshot.releases)
}

func (s *PackageState) validateRecord(envelope *record.Envelope) error {
	r, err := record.DecodePackageRecord(envelope.ContentBytes)
	if err != nil {
		return fmt.Errorf("failed to decode package record: %w", err)
	}

	recordID := envelope.RecordID()

	if err := s.validateRecordHash(r); err != nil {
		return err
	}

	if err := s.validateRecordVersion(r); err != nil {
		return err
	}

	if err := s.validateRecordTimestamp(r); err != nil {
		return err
	}

	if err := s.validateRecordEntries(recordID, envelope.KeyID, r); err != nil {
		return err
	}

	// At this point the algorithm must have been set by an init entry
	if !s.Initialized() {
		return &ValidationError{Code: CodeInitialRecordDoesNotInit}
	}

	// The signer key must be known to the log
	key, ok := s.keys.get(envelope.KeyID)
	if !ok {
		return &ValidationError{Code: CodeKeyIDNotRecognized, KeyID: envelope.KeyID}
	}

	// Verify the envelope signature over the raw content bytes
	if err := envelope.Verify(key); err != nil {
		return &ValidationError{Code: CodeBadSignature, KeyID: envelope.KeyID}
	}

	s.head = &Head{Digest: recordID, Timestamp: r.Timestamp}
	return nil
}

func (s *PackageState) validateRecordHash(r *record.PackageRecord) error {
	switch {
	case s.head == nil && r.Prev != nil:
		return &ValidationError{Code: CodePreviousHashOnFirstRecord}
	case s.head != nil && r.Prev == nil:
		return &ValidationError{Code: CodeNoPreviousHashAfterInit}
	case s.head == nil && r.Prev == nil:
		return nil
	default:
		if r.Prev.Algorithm != s.head.Digest.Algorithm {
			return &ValidationError{
				Code:     CodeIncorrectHashAlgorithm,
				Found:    r.Prev.Algorithm,
				Expected: s.head.Digest.Algorithm,
			}
		}
		if !r.Prev.Equal(s.head.Digest) {
			return &ValidationError{Code: CodeRecordHashDoesNotMatch}
		}
		return nil
	}
}

func (s *PackageState) validateRecordVersion(r *record.PackageRecord) error {
	if r.Version != record.PackageRecordVersion {
		return &ValidationError{Code: CodeProtocolVersionNotAllowed, ProtocolVersion: r.Version}
	}
	return nil
}

func (s *PackageState) validateRecordTimestamp(r *record.PackageRecord) error {
	if s.head != nil && r.Timestamp.Before(s.head.Timestamp) {
		return &ValidationError{Code: CodeTimestampLowerThanPrevious}
	}
	return nil
}

func (s *PackageState) validateRecordEntries(recordID record.RecordID, signer signing.KeyID, r *record.PackageRecord) error {
	for _, entry := range r.Entries {
		if permission, required := entry.RequiredPermission(); required {
			if err := s.checkKeyPermission(signer, permission); err != nil {
				return err
			}
		}

		// An init entry is processed specially
		if init, ok := entry.(record.PackageInit); ok {
			if err := s.validateInitEntry(signer, init); err != nil {
				return err
			}
			continue
		}

		// Must have seen an init entry by now
		if !s.Initialized() {
			return &ValidationError{Code: CodeFirstEntryIsNotInit}
		}

		switch e := entry.(type) {
		case record.PackageGrantFlat:
			s.keys.insert(e.Key)
			s.permissions.grant(e.Key.ID(), e.Permission)
		case record.PackageRevokeFlat:
			if !s.permissions.revoke(e.KeyID, e.Permission) {
				return &ValidationError{
					Code:       CodePermissionNotFoundToRevoke,
					KeyID:      e.KeyID,
					Permission: e.Permission,
				}
			}
		case record.PackageRelease:
			if err := s.validateReleaseEntry(recordID, signer, r.Timestamp, e); err != nil {
				return err
			}
		case record.PackageYank:
			if err := s.validateYankEntry(signer, r.Timestamp, e); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *PackageState) validateInitEntry(signer signing.KeyID, init record.PackageInit) error {
	if s.Initialized() {
		return &ValidationError{Code: CodeInitialEntryAfterBeginning}
	}

	s.algorithm = init.HashAlgorithm
	s.permissions.grant(signer, record.PackagePermissions()...)
	s.keys.insert(init.Key)

	return nil
}

func (s *PackageState) validateReleaseEntry(recordID record.RecordID, signer signing.KeyID, timestamp time.Time, e record.PackageRelease) error {
	// Any prior release of the version is a hard error, yanked or not;
	// a yanked version cannot be re-released.
	if _, exists := s.releases.get(e.Version.String()); exists {
		return &ValidationError{Code: CodeReleaseOfReleased, Version: e.Version.String()}
	}

	s.releases.insert(&Release{
		RecordID:  recordID,
		Version:   e.Version,
		By:        signer,
		Timestamp: timestamp,
		State: ReleaseState{
			Status:  ReleaseStatusReleased,
			Content: e.ContentDigest,
		},
	})

	return nil
}

func (s *PackageState) validateYankEntry(signer signing.KeyID, timestamp time.Time, e record.PackageYank) error {
	release, exists := s.releases.get(e.Version.String())
	if !exists {
		return &ValidationError{Code: CodeYankOfUnreleased, Version: e.Version.String()}
	}

	if release.Yanked() {
		return &ValidationError{Code: CodeYankOfYanked, Version: e.Version.String()}
	}

	s.yankJournal = append(s.yankJournal, *release)
	s.releases.insert(&Release{
		RecordID:  release.RecordID,
		Version:   release.Version,
		By:        release.By,
		Timestamp: release.Timestamp,
		State: ReleaseState{
			Status:   ReleaseStatusYanked,
			YankedBy: signer,
			YankedAt: timestamp,
		},
	})

	return nil
}

func (s *PackageState) checkKeyPermission(id signing.KeyID, permission record.Permission) error {
	set, ok := s.permissions.get(id)
	if !ok {
		return &ValidationError{Code: CodeKeyIDNotRecognized, KeyID: id}
	}

	for _, p := range set {
		if p == permission {
			return nil
		}
	}

	return &ValidationError{Code: CodeUnauthorizedAction, KeyID: id, Permission: permission}
}
