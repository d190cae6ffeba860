// Package replication implements the Replication Pump of §4.4: on
// every tick it takes the master's accumulated trans-log and
// broadcasts it asynchronously to all configured replicas.
//
// Per the faithful resolution of Open Question 1 (see DESIGN.md), the
// buffer is NOT cleared after a successful push: replicas are built to
// treat ApplyLog as idempotent (engine.ApplyLog just re-applies map
// writes), so the redundant re-delivery on every tick is harmless, not
// a correctness bug — it is called out explicitly as the teacher's
// original, retained behavior rather than a corrected one.
package replication

import (
	"context"
	"time"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/logging"
	"github.com/bycanvas/locker/internal/membership"
	"github.com/bycanvas/locker/internal/metrics"
	"github.com/bycanvas/locker/internal/transport"
)

// Pump broadcasts one master's trans-log on a fixed interval.
type Pump struct {
	id       lease.NodeID
	engine   *engine.Engine
	cfg      *membership.Store
	tr       transport.Transport
	m        *metrics.Metrics
	interval time.Duration
}

// New builds a Pump for node id, broadcasting every interval.
func New(id lease.NodeID, e *engine.Engine, cfg *membership.Store, tr transport.Transport, m *metrics.Metrics, interval time.Duration) *Pump {
	if interval <= 0 {
		interval = time.Second
	}
	return &Pump{id: id, engine: e, cfg: cfg, tr: tr, m: m, interval: interval}
}

// Run blocks, pushing on every tick until ctx is canceled.
func (p *Pump) Run(ctx context.Context) {
	log := logging.For("replication", string(p.id))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info("replication pump started")
	for {
		select {
		case <-ctx.Done():
			log.Info("replication pump stopped")
			return
		case <-ticker.C:
			p.Push()
		}
	}
}

// Push performs one broadcast tick; exported so tests can force a push
// without waiting on the ticker.
func (p *Pump) Push() {
	cfg := p.cfg.Get()
	if len(cfg.Replicas) == 0 {
		return
	}
	records := p.engine.TransLogSnapshot()
	if len(records) == 0 {
		return
	}
	p.tr.Cast(cfg.Replicas, transport.ApplyLogRequest{Origin: p.id, Records: records})
	now := float64(time.Now().Unix())
	for _, replica := range cfg.Replicas {
		p.m.ObservePush(string(p.id), string(replica), now)
	}
}
