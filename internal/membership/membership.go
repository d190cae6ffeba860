// Package membership is the Membership/Config component: the
// process-wide quorum size and master/replica sets. Reconfiguration is
// intentionally best-effort broadcast (spec Non-goal: automatic
// membership change safety), so Store only guarantees that a single
// Get() returns a value some AdminSet* actually produced, not that
// every node converges at the same time.
package membership

import (
	"sync"

	"github.com/bycanvas/locker/internal/lease"
)

// Store holds one node's view of the cluster configuration behind a
// RWMutex, per the design notes' "mutex-protected struct" option:
// AdminSet* writers are rare, Coordinator reads happen on every
// operation and must not serialize against each other.
type Store struct {
	mu  sync.RWMutex
	cfg lease.Configuration
}

// New seeds a Store with the given configuration.
func New(cfg lease.Configuration) *Store {
	return &Store{cfg: cfg.Clone()}
}

// Get returns a snapshot consistent within the caller's operation.
func (s *Store) Get() lease.Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// SetMasters replaces the master set, leaving W and Replicas intact.
func (s *Store) SetMasters(masters []lease.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Masters = append([]lease.NodeID(nil), masters...)
}

// SetReplicas replaces the replica set.
func (s *Store) SetReplicas(replicas []lease.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Replicas = append([]lease.NodeID(nil), replicas...)
}

// SetW replaces the quorum threshold.
func (s *Store) SetW(w int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.W = w
}
