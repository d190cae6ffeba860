// Package expiry runs the two periodic Expiration Services of §4.3: a
// lease sweep and a lock sweep, each on its own ticker, matching the
// design notes' "three periodic tickers... coalesce ticks if behind."
package expiry

import (
	"context"
	"time"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/logging"
)

// LockTTL is the small constant of §4.3: long enough to cover a
// commit round-trip, short enough that a crashed coordinator does not
// stall a key for long.
const LockTTL = time.Second

// Services owns the two sweep tickers for one node's Engine.
type Services struct {
	engine              *engine.Engine
	leaseExpireInterval time.Duration
	lockExpireInterval  time.Duration
	lockTTL             time.Duration
}

// New builds Services for e. Zero intervals fall back to sane defaults.
func New(e *engine.Engine, leaseExpireInterval, lockExpireInterval time.Duration) *Services {
	if leaseExpireInterval <= 0 {
		leaseExpireInterval = 500 * time.Millisecond
	}
	if lockExpireInterval <= 0 {
		lockExpireInterval = 250 * time.Millisecond
	}
	return &Services{
		engine:              e,
		leaseExpireInterval: leaseExpireInterval,
		lockExpireInterval:  lockExpireInterval,
		lockTTL:             LockTTL,
	}
}

// Run blocks, driving both sweeps until ctx is canceled.
func (s *Services) Run(ctx context.Context) {
	log := logging.For("expiry", "")
	leaseTicker := time.NewTicker(s.leaseExpireInterval)
	lockTicker := time.NewTicker(s.lockExpireInterval)
	defer leaseTicker.Stop()
	defer lockTicker.Stop()

	log.Info("expiration services started")
	for {
		select {
		case <-ctx.Done():
			log.Info("expiration services stopped")
			return
		case <-leaseTicker.C:
			s.engine.SweepLeases()
		case <-lockTicker.C:
			s.engine.SweepLocks(s.lockTTL)
		}
	}
}
