package validator

import (
	"time"

	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// Head is the last accepted record of a log: its digest and timestamp.
type Head struct {
	// Digest of the last validated record
	Digest record.RecordID

	// Timestamp of the last validated record
	Timestamp time.Time
}

// keyMap is an insertion-ordered map from key id to public key.
// Entries are only ever appended, so truncating the order slice to a
// previous length is a sound rollback.
type keyMap struct {
	order []signing.KeyID
	byID  map[signing.KeyID]signing.PublicKey
}

func newKeyMap() keyMap {
	return keyMap{byID: make(map[signing.KeyID]signing.PublicKey)}
}

func (m *keyMap) get(id signing.KeyID) (signing.PublicKey, bool) {
	key, ok := m.byID[id]
	return key, ok
}

func (m *keyMap) insert(key signing.PublicKey) {
	id := key.ID()
	if _, exists := m.byID[id]; !exists {
		m.order = append(m.order, id)
	}
	m.byID[id] = key
}

func (m *keyMap) len() int {
	return len(m.order)
}

func (m *keyMap) truncate(n int) {
	for _, id := range m.order[n:] {
		delete(m.byID, id)
	}
	m.order = m.order[:n]
}

// permissionMap is an insertion-ordered map from key id to the set of
// permissions the key holds. Sets of keys present at snapshot time may
// be mutated by grants and revokes, so rollback restores a clone.
type permissionMap struct {
	order []signing.KeyID
	byID  map[signing.KeyID][]record.Permission
}

func newPermissionMap() permissionMap {
	return permissionMap{byID: make(map[signing.KeyID][]record.Permission)}
}

func (m *permissionMap) get(id signing.KeyID) ([]record.Permission, bool) {
	set, ok := m.byID[id]
	return set, ok
}

func (m *permissionMap) holds(id signing.KeyID, permission record.Permission) bool {
	for _, p := range m.byID[id] {
		if p == permission {
			return true
		}
	}
	return false
}

// grant adds permission to the key's set, creating the entry if needed.
// Granting an already-held permission is a no-op.
func (m *permissionMap) grant(id signing.KeyID, permissions ...record.Permission) {
	if _, exists := m.byID[id]; !exists {
		m.order = append(m.order, id)
		m.byID[id] = nil
	}
	for _, permission := range permissions {
		if !m.holds(id, permission) {
			m.byID[id] = append(m.byID[id], permission)
		}
	}
}

// revoke removes permission from the key's set. Returns false when the
// key does not currently hold the permission.
func (m *permissionMap) revoke(id signing.KeyID, permission record.Permission) bool {
	set, ok := m.byID[id]
	if !ok {
		return false
	}
	for i, p := range set {
		if p == permission {
			m.byID[id] = append(set[:i:i], set[i+1:]...)
			return true
		}
	}
	return false
}

func (m *permissionMap) len() int {
	return len(m.order)
}

// clone copies the map for snapshotting. The per-key sets are small and
// bounded by the permission vocabulary.
func (m *permissionMap) clone() map[signing.KeyID][]record.Permission {
	cloned := make(map[signing.KeyID][]record.Permission, len(m.byID))
	for id, set := range m.byID {
		cloned[id] = append([]record.Permission(nil), set...)
	}
	return cloned
}

// restore resets the map to a previously cloned state.
func (m *permissionMap) restore(n int, cloned map[signing.KeyID][]record.Permission) {
	m.order = m.order[:n]
	m.byID = cloned
}
