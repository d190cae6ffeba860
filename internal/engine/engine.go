// Package engine implements the Node State Engine: the single-writer
// serialization point for one node's lock map and data map. All
// state-mutating operations take the same mutex, giving them a total
// order equivalent to a channel-driven actor (design notes §9 name
// both as acceptable; a mutex-protected struct is simpler to reason
// about under context cancellation and is the shape the teacher's
// Agent already uses for leaderLock/clientLock).
package engine

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/logging"
	"github.com/bycanvas/locker/internal/membership"
)

// Status is the tagged result an engine operation replies with. The
// engine never returns a Go error for an expected outcome (spec §7):
// errors are reserved for things like context cancellation.
type Status string

const (
	StatusOk            Status = "Ok"
	StatusAlreadyLocked Status = "AlreadyLocked"
	StatusNotExpected   Status = "NotExpected"
	StatusNotOwner      Status = "NotOwner"
	StatusNotFound      Status = "NotFound"
)

// keyItem adapts a Key for ordered storage in a google/btree.BTree,
// giving GetDebugState a stable key order that plain Go map iteration
// does not provide.
type keyItem lease.Key

func (a keyItem) Less(than btree.Item) bool {
	return a < than.(keyItem)
}

// Engine owns one node's data map, lock map and trans-log buffer.
type Engine struct {
	id  lease.NodeID
	cfg *membership.Store
	log *logrus.Entry

	mu    sync.RWMutex
	data  map[lease.Key]lease.LeaseEntry
	keys  *btree.BTree // ordered index over data, mirrors keys 1:1
	locks map[lease.Key]lease.LockEntry
	buf   []lease.TransLogRecord

	clock func() time.Time
}

// New creates an Engine for node id, backed by cfg for AdminSet*
// mutations and Coordinator-visible Get() reads.
func New(id lease.NodeID, cfg *membership.Store) *Engine {
	return &Engine{
		id:    id,
		cfg:   cfg,
		log:   logging.For("engine", string(id)),
		data:  make(map[lease.Key]lease.LeaseEntry),
		keys:  btree.New(32),
		locks: make(map[lease.Key]lease.LockEntry),
		clock: time.Now,
	}
}

func (e *Engine) now() int64 {
	return e.clock().UnixMilli()
}

// Promise implements §4.1 Promise(Key, Expected, Tag).
func (e *Engine) Promise(key lease.Key, expected lease.Value, tag lease.Tag) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, locked := e.locks[key]; locked {
		return StatusAlreadyLocked
	}
	entry, exists := e.data[key]
	ok := false
	if lease.IsAbsent(expected) {
		ok = !exists
	} else if exists && entry.Value.Equal(expected) {
		ok = true
	}
	if !ok {
		return StatusNotExpected
	}
	e.locks[key] = lease.LockEntry{Tag: tag, Key: key, AcquiredAtMs: e.now()}
	return StatusOk
}

// Commit implements §4.1 Commit(Tag, Key, Value, LeaseMs). It is
// unconditional: the coordinator is trusted to have already proven
// quorum, so Commit always succeeds and pairs the write with
// releasing this Tag's lock, avoiding an extra round-trip.
func (e *Engine) Commit(tag lease.Tag, key lease.Key, value lease.Value, leaseMs int64) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lk, ok := e.locks[key]; ok && lk.Tag == tag {
		delete(e.locks, key)
	}
	e.setData(key, value, leaseMs)
	e.appendLocked(lease.TransLogRecord{Kind: lease.RecordWrite, Key: key, Value: value, LeaseMs: leaseMs})
	return StatusOk
}

// Abort implements §4.1 Abort(Tag). Idempotent, never fails.
func (e *Engine) Abort(tag lease.Tag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, lk := range e.locks {
		if lk.Tag == tag {
			delete(e.locks, k)
		}
	}
}

// ExtendCommit implements §4.1 ExtendCommit(Tag, Key, Value, LeaseMs).
// The value, not the Tag, authoritatively identifies the owner, so a
// newly-joined node can accept an extension for a lease it never
// originated.
func (e *Engine) ExtendCommit(tag lease.Tag, key lease.Key, value lease.Value, leaseMs int64) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, exists := e.data[key]
	if !exists {
		return StatusNotFound
	}
	if !entry.Value.Equal(value) {
		return StatusNotOwner
	}
	if lk, ok := e.locks[key]; ok && lk.Tag == tag {
		delete(e.locks, key)
	}
	e.setData(key, value, leaseMs)
	e.appendLocked(lease.TransLogRecord{Kind: lease.RecordWrite, Key: key, Value: value, LeaseMs: leaseMs})
	return StatusOk
}

// ReleaseCommit implements §4.1 ReleaseCommit(Tag, Key, Value).
func (e *Engine) ReleaseCommit(tag lease.Tag, key lease.Key, value lease.Value) Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, exists := e.data[key]
	if !exists {
		return StatusNotFound
	}
	if !entry.Value.Equal(value) {
		return StatusNotOwner
	}
	delete(e.data, key)
	e.keys.Delete(keyItem(key))
	e.appendLocked(lease.TransLogRecord{Kind: lease.RecordDelete, Key: key})
	if lk, ok := e.locks[key]; ok && lk.Tag == tag {
		delete(e.locks, key)
	}
	return StatusOk
}

// ApplyLog implements §4.1 ApplyLog(records): a cast with no reply.
// Replicas apply blindly; masters may also accept inbound logs, but
// in practice only replicas receive them. Lease expiry is relative to
// this node's own clock.
func (e *Engine) ApplyLog(records []lease.TransLogRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		switch r.Kind {
		case lease.RecordWrite:
			e.setData(r.Key, r.Value, r.LeaseMs)
		case lease.RecordDelete:
			delete(e.data, r.Key)
			e.keys.Delete(keyItem(r.Key))
		}
	}
}

// setData writes the data map and its ordered index. Caller holds mu.
func (e *Engine) setData(key lease.Key, value lease.Value, leaseMs int64) {
	if _, exists := e.data[key]; !exists {
		e.keys.ReplaceOrInsert(keyItem(key))
	}
	e.data[key] = lease.LeaseEntry{Value: value, ExpireAtMs: e.now() + leaseMs}
}

// appendLocked appends to the retained trans-log buffer. Caller holds mu.
// The buffer is never cleared here: per the faithful OQ1 resolution
// the Replication Pump, not Commit, owns truncation policy (and in
// the faithful behavior the pump also does not truncate — see
// internal/replication).
func (e *Engine) appendLocked(rec lease.TransLogRecord) {
	e.buf = append(e.buf, rec)
}

// TransLogSnapshot returns a copy of the accumulated trans-log buffer
// for the Replication Pump to broadcast. It does not clear the
// buffer: see OQ1 in DESIGN.md.
func (e *Engine) TransLogSnapshot() []lease.TransLogRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]lease.TransLogRecord, len(e.buf))
	copy(out, e.buf)
	return out
}

// DirtyRead is the non-quorum, local-snapshot read of §6. It may
// observe a stale or expired-but-not-swept value.
func (e *Engine) DirtyRead(key lease.Key) (lease.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.data[key]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// AdminSetMasters, AdminSetReplicas and AdminSetW replace the
// corresponding configuration atomically, via the Membership/Config
// store rather than the engine's own maps.
func (e *Engine) AdminSetMasters(masters []lease.NodeID) { e.cfg.SetMasters(masters) }
func (e *Engine) AdminSetReplicas(replicas []lease.NodeID) { e.cfg.SetReplicas(replicas) }
func (e *Engine) AdminSetW(w int) { e.cfg.SetW(w) }

// DebugState is a point-in-time snapshot for tests and observability.
type DebugState struct {
	Locks       map[lease.Key]lease.LockEntry
	Data        map[lease.Key]lease.LeaseEntry
	OrderedKeys []lease.Key
}

// GetDebugState implements §4.1 GetDebugState.
func (e *Engine) GetDebugState() DebugState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	locks := make(map[lease.Key]lease.LockEntry, len(e.locks))
	for k, v := range e.locks {
		locks[k] = v
	}
	data := make(map[lease.Key]lease.LeaseEntry, len(e.data))
	for k, v := range e.data {
		data[k] = v
	}
	ordered := make([]lease.Key, 0, e.keys.Len())
	e.keys.Ascend(func(item btree.Item) bool {
		ordered = append(ordered, lease.Key(item.(keyItem)))
		return true
	})
	return DebugState{Locks: locks, Data: data, OrderedKeys: ordered}
}

// SweepLeases implements the §4.3 lease sweep: delete keys whose
// ExpireAtMs is in the past and which are not currently locked
// (invariant 3 — a commit in flight holds the lock and is about to
// refresh the key).
func (e *Engine) SweepLeases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	removed := 0
	for k, entry := range e.data {
		if entry.ExpireAtMs >= now {
			continue
		}
		if _, locked := e.locks[k]; locked {
			continue
		}
		delete(e.data, k)
		e.keys.Delete(keyItem(k))
		removed++
	}
	if removed > 0 {
		e.log.WithField("removed", removed).Debug("lease sweep expired stale entries")
	}
	return removed
}

// SweepLocks implements the §4.3 lock sweep: remove LockEntry rows
// whose AcquiredAtMs+lockTTL is in the past, freeing keys stranded by
// a crashed coordinator.
func (e *Engine) SweepLocks(lockTTL time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	ttlMs := lockTTL.Milliseconds()
	removed := 0
	for k, lk := range e.locks {
		if lk.AcquiredAtMs+ttlMs < now {
			delete(e.locks, k)
			removed++
		}
	}
	if removed > 0 {
		e.log.WithField("removed", removed).Debug("lock sweep reclaimed stale promises")
	}
	return removed
}
