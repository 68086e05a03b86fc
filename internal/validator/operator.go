package validator

import (
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// OperatorState validates records of the operator log, applied in log order.
type OperatorState struct {
	// Hash algorithm declared by the log's init entry; empty until then
	algorithm hash.Algorithm

	// Last accepted record, nil before the first
	head *Head

	// Permissions held by each key, in grant order
	permissions permissionMap

	// Public keys known to the log, in introduction order
	keys keyMap
}

// NewOperatorState creates an empty operator log validator.
func NewOperatorState() *OperatorState {
	return &OperatorState{
		permissions: newPermissionMap(),
		keys:        newKeyMap(),
	}
}

// Head returns the last accepted record, or nil if none.
func (s *OperatorState) Head() *Head {
	return s.head
}

// Initialized reports whether the log's init entry has been accepted.
func (s *OperatorState) Initialized() bool {
	return s.algorithm != ""
}

// Algorithm returns the hash algorithm declared by the log.
func (s *OperatorState) Algorithm() hash.Algorithm {
	return s.algorithm
}

// PublicKey returns the public key for a key id known to the log.
func (s *OperatorState) PublicKey(id signing.KeyID) (signing.PublicKey, bool) {
	return s.keys.get(id)
}

// Permissions returns the permissions currently held by a key.
func (s *OperatorState) Permissions(id signing.KeyID) []record.Permission {
	set, _ := s.permissions.get(id)
	return append([]record.Permission(nil), set...)
}

// operatorSnapshot captures the rollback point for a validation attempt.
type operatorSnapshot struct {
	algorithm   hash.Algorithm
	head        *Head
	keys        int
	permissions int
	permSets    map[signing.KeyID][]record.Permission
}

// Validate validates a single operator record envelope.
//
// It is expected that Validate is called in order of the records in the
// log. The operation is transactional: if any entry fails to validate,
// the state remains unchanged.
func (s *OperatorState) Validate(envelope *record.Envelope) error {
	snapshot := s.snapshot()

	if err := s.validateRecord(envelope); err != nil {
		s.rollback(snapshot)
		return err
	}

	return nil
}

func (s *OperatorState) snapshot() operatorSnapshot {
	var head *Head
	if s.head != nil {
		h := *s.head
		head = &h
	}

	return operatorSnapshot{
		algorithm:   s.algorithm,
		head:        head,
		keys:        s.keys.len(),
		permissions: s.permissions.len(),
		permSets:    s.permissions.clone(),
	}
}

func (s *OperatorState) rollback(snapshot operatorSnapshot) {
	s.algorithm = snapshot.algorithm
	s.head = snapshot.head
	s.keys.truncate(snapshot.keys)
	s.permissions.restore(snapshot.permissions, snapshot.permSets)
}

func (s *OperatorState) validateRecord(envelope *record.Envelope) error {
	r, err := record.DecodeOperatorRecord(envelope.ContentBytes)
	if err != nil {
		return fmt.Errorf("failed to decode operator record: %w", err)
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

	if err := s.validateRecordEntries(envelope.KeyID, r); err != nil {
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

func (s *OperatorState) validateRecordHash(r *record.OperatorRecord) error {
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

func (s *OperatorState) validateRecordVersion(r *record.OperatorRecord) error {
	if r.Version != record.OperatorRecordVersion {
		return &ValidationError{Code: CodeProtocolVersionNotAllowed, ProtocolVersion: r.Version}
	}
	return nil
}

func (s *OperatorState) validateRecordTimestamp(r *record.OperatorRecord) error {
	if s.head != nil && r.Timestamp.Before(s.head.Timestamp) {
		return &ValidationError{Code: CodeTimestampLowerThanPrevious}
	}
	return nil
}

func (s *OperatorState) validateRecordEntries(signer signing.KeyID, r *record.OperatorRecord) error {
	for _, entry := range r.Entries {
		if permission, required := entry.RequiredPermission(); required {
			if err := s.checkKeyPermission(signer, permission); err != nil {
				return err
			}
		}

		// An init entry is processed specially
		if init, ok := entry.(record.OperatorInit); ok {
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
		case record.OperatorGrantFlat:
			s.keys.insert(e.Key)
			s.permissions.grant(e.Key.ID(), e.Permission)
		case record.OperatorRevokeFlat:
			if !s.permissions.revoke(e.KeyID, e.Permission) {
				return &ValidationError{
					Code:       CodePermissionNotFoundToRevoke,
					KeyID:      e.KeyID,
					Permission: e.Permission,
				}
			}
		}
	}

	return nil
}

func (s *OperatorState) validateInitEntry(signer signing.KeyID, init record.OperatorInit) error {
	if s.Initialized() {
		return &ValidationError{Code: CodeInitialEntryAfterBeginning}
	}

	s.algorithm = init.HashAlgorithm
	s.permissions.grant(signer, record.OperatorPermissions()...)
	s.keys.insert(init.Key)

	return nil
}

func (s *OperatorState) checkKeyPermission(id signing.KeyID, permission record.Permission) error {
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
