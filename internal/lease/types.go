// Package lease holds the wire-agnostic data model shared by every
// component: keys, values, leases, locks and the trans-log records
// shipped from masters to replicas.
package lease

// Key identifies a lease slot. Equality is the only operation the
// system requires of it.
type Key string

// Value is an opaque payload compared with byte equality for CAS.
// A nil Value is the ABSENT sentinel: "key expected to be missing."
type Value []byte

// ABSENT is the sentinel Expected value meaning "no entry for this key."
var ABSENT Value = nil

// IsAbsent reports whether v is the ABSENT sentinel.
func IsAbsent(v Value) bool {
	return v == nil
}

// Equal reports byte-for-byte equality, honoring the ABSENT sentinel.
func (v Value) Equal(other Value) bool {
	if IsAbsent(v) || IsAbsent(other) {
		return IsAbsent(v) == IsAbsent(other)
	}
	if len(v) != len(other) {
		return false
	}
	for i := range v {
		if v[i] != other[i] {
			return false
		}
	}
	return true
}

// Tag is a per-attempt identifier correlating Promise, Commit and Abort.
// Coordinators mint a fresh Tag for every write attempt; collisions must
// be astronomically unlikely.
type Tag string

// NodeID addresses a cluster member, e.g. "10.0.0.4:7000".
type NodeID string

// LeaseEntry is the durable-for-its-lifetime record in the data map.
type LeaseEntry struct {
	Value      Value
	ExpireAtMs int64
}

// LockEntry reserves exclusive write intent for a Key under a Tag.
type LockEntry struct {
	Tag          Tag
	Key          Key
	AcquiredAtMs int64
}

// RecordKind distinguishes the two trans-log record shapes.
type RecordKind uint8

const (
	// RecordWrite carries a committed (Key, Value, LeaseMs) triple.
	RecordWrite RecordKind = iota
	// RecordDelete carries a Key removed by ReleaseCommit.
	RecordDelete
)

// TransLogRecord is one entry appended by Commit/ExtendCommit/ReleaseCommit
// and broadcast by the Replication Pump, which leaves the buffer in place.
type TransLogRecord struct {
	Kind    RecordKind
	Key     Key
	Value   Value
	LeaseMs int64
}
