// Package coordinator implements the client-facing façade of §4.2:
// the two-phase Promise/Commit protocol, quorum tallying, and the
// Lock/Release/ExtendLease/DirtyRead/SetNodes/SetW/Summary/Lag client
// operations of §6. It is stateless with respect to lock/data state —
// only its view of cluster membership persists between calls, mirroring
// the teacher's Client, which keeps nothing but its server list and
// redirect target between requests.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/logging"
	"github.com/bycanvas/locker/internal/membership"
	"github.com/bycanvas/locker/internal/metrics"
	"github.com/bycanvas/locker/internal/transport"
)

// ErrNoQuorum is returned when fewer than W masters answered Ok to a
// Promise, per the §7 error taxonomy.
var ErrNoQuorum = errors.New("locker: quorum not reached")

// ErrNotFound is returned by DirtyRead when no reachable node has the key.
var ErrNotFound = errors.New("locker: key not found")

// Result reports the (W, Voted, Committed) triple of §6 for a
// successful Lock or Release.
type Result struct {
	W         int
	Voted     int
	Committed int
}

// Coordinator is safe for concurrent use: every method snapshots
// configuration once at the top and never mutates shared state other
// than through AdminSet* broadcasts.
type Coordinator struct {
	cfg *membership.Store
	tr  transport.Transport
	m   *metrics.Metrics
}

// New builds a Coordinator whose view of the cluster starts at cfg.
func New(cfg *membership.Store, tr transport.Transport, m *metrics.Metrics) *Coordinator {
	return &Coordinator{cfg: cfg, tr: tr, m: m}
}

func newTag() lease.Tag {
	return lease.Tag(uuid.NewString())
}

// tally partitions a CallMany result set into the nodes that answered
// with the wanted status vs. everything else (rejections and Downs
// are folded together, per §7: "Down/Timeout ... handled identically
// to a negative vote for quorum accounting").
func tally(results map[lease.NodeID]transport.CallResult, want engine.Status) []lease.NodeID {
	var ok []lease.NodeID
	for node, res := range results {
		if res.Err == nil && res.Reply.Status == want {
			ok = append(ok, node)
		}
	}
	return ok
}

func (c *Coordinator) abortAll(masters []lease.NodeID, tag lease.Tag) {
	c.m.IncAbort()
	// Best-effort: give it a modest bounded timeout of its own rather
	// than the caller's already-expired context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.tr.CallMany(ctx, masters, transport.Request{Type: transport.MsgAbort, Tag: tag})
}

// Lock implements §4.2.1.
func (c *Coordinator) Lock(ctx context.Context, key lease.Key, value lease.Value, leaseMs int64, timeout time.Duration) (Result, error) {
	cfg := c.cfg.Get()
	tag := newTag()
	log := logging.For("coordinator", "").WithField("key", key).WithField("tag", tag)

	promiseCtx, cancel := context.WithTimeout(ctx, timeout)
	promises := c.tr.CallMany(promiseCtx, cfg.Masters, transport.Request{
		Type: transport.MsgPromise, Key: key, Expected: lease.ABSENT, Tag: tag,
	})
	cancel()
	okNodes := tally(promises, engine.StatusOk)
	c.m.IncPromise(len(okNodes) >= cfg.W)
	if len(okNodes) < cfg.W {
		log.WithField("voted", len(okNodes)).WithField("w", cfg.W).Info("lock: no quorum on promise")
		c.abortAll(cfg.Masters, tag)
		c.m.IncNoQuorum()
		return Result{}, ErrNoQuorum
	}

	commitCtx, cancel2 := context.WithTimeout(ctx, timeout)
	commits := c.tr.CallMany(commitCtx, cfg.Masters, transport.Request{
		Type: transport.MsgCommit, Tag: tag, Key: key, Value: value, LeaseMs: leaseMs,
	})
	cancel2()
	c.m.IncCommit()
	committed := tally(commits, engine.StatusOk)
	return Result{W: cfg.W, Voted: len(okNodes), Committed: len(committed)}, nil
}

// Release implements §4.2.2. The promise phase requires
// Expected == value (ownership-matching CAS); on quorum, ReleaseCommit
// goes to every master and every replica, letting replicas learn the
// deletion synchronously instead of waiting for the next log push.
func (c *Coordinator) Release(ctx context.Context, key lease.Key, value lease.Value, timeout time.Duration) (Result, error) {
	cfg := c.cfg.Get()
	tag := newTag()

	promiseCtx, cancel := context.WithTimeout(ctx, timeout)
	promises := c.tr.CallMany(promiseCtx, cfg.Masters, transport.Request{
		Type: transport.MsgPromise, Key: key, Expected: value, Tag: tag,
	})
	cancel()
	okNodes := tally(promises, engine.StatusOk)
	c.m.IncPromise(len(okNodes) >= cfg.W)
	if len(okNodes) < cfg.W {
		c.abortAll(cfg.Masters, tag)
		c.m.IncNoQuorum()
		return Result{}, ErrNoQuorum
	}

	dests := make([]lease.NodeID, 0, len(cfg.Masters)+len(cfg.Replicas))
	dests = append(dests, cfg.Masters...)
	dests = append(dests, cfg.Replicas...)
	commitCtx, cancel2 := context.WithTimeout(ctx, timeout)
	commits := c.tr.CallMany(commitCtx, dests, transport.Request{
		Type: transport.MsgReleaseCommit, Tag: tag, Key: key, Value: value,
	})
	cancel2()
	c.m.IncCommit()
	committedMasters := 0
	for _, master := range cfg.Masters {
		if res, ok := commits[master]; ok && res.Err == nil && res.Reply.Status == engine.StatusOk {
			committedMasters++
		}
	}
	return Result{W: cfg.W, Voted: len(okNodes), Committed: committedMasters}, nil
}

// ExtendLease implements §4.2.3. Nodes that reject ExtendCommit
// (NotOwner/NotFound) never received a Commit, so their stray
// LockEntry is cleared with a follow-up Abort.
func (c *Coordinator) ExtendLease(ctx context.Context, key lease.Key, value lease.Value, leaseMs int64, timeout time.Duration) error {
	cfg := c.cfg.Get()
	tag := newTag()

	promiseCtx, cancel := context.WithTimeout(ctx, timeout)
	promises := c.tr.CallMany(promiseCtx, cfg.Masters, transport.Request{
		Type: transport.MsgPromise, Key: key, Expected: value, Tag: tag,
	})
	cancel()
	okNodes := tally(promises, engine.StatusOk)
	c.m.IncPromise(len(okNodes) >= cfg.W)
	if len(okNodes) < cfg.W {
		c.abortAll(cfg.Masters, tag)
		c.m.IncNoQuorum()
		return ErrNoQuorum
	}

	extendCtx, cancel2 := context.WithTimeout(ctx, timeout)
	extends := c.tr.CallMany(extendCtx, cfg.Masters, transport.Request{
		Type: transport.MsgExtendCommit, Tag: tag, Key: key, Value: value, LeaseMs: leaseMs,
	})
	cancel2()
	c.m.IncCommit()

	var toAbort []lease.NodeID
	for node, res := range extends {
		if res.Err != nil {
			continue
		}
		if res.Reply.Status != engine.StatusOk {
			toAbort = append(toAbort, node)
		}
	}
	if len(toAbort) > 0 {
		c.abortAll(toAbort, tag)
	}
	return nil
}

// DirtyRead implements §6 dirty_read: a non-quorum, local-snapshot
// read served by the first node, masters before replicas, that is
// reachable and holds the key. It may observe a stale or
// expired-but-not-swept value.
func (c *Coordinator) DirtyRead(ctx context.Context, timeout time.Duration) *ReadRequest {
	return &ReadRequest{c: c, timeout: timeout}
}

// ReadRequest exists so DirtyRead reads carry an explicit timeout
// without cluttering every call site with a bare context deadline.
type ReadRequest struct {
	c       *Coordinator
	timeout time.Duration
}

// Get performs the read against masters, then replicas, in configured order.
func (r *ReadRequest) Get(ctx context.Context, key lease.Key) (lease.Value, error) {
	cfg := r.c.cfg.Get()
	candidates := make([]lease.NodeID, 0, len(cfg.Masters)+len(cfg.Replicas))
	candidates = append(candidates, cfg.Masters...)
	candidates = append(candidates, cfg.Replicas...)
	for _, node := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		reply, err := r.c.tr.Call(callCtx, node, transport.Request{Type: transport.MsgDirtyRead, Key: key})
		cancel()
		if err != nil {
			continue
		}
		if reply.Status == engine.StatusOk && reply.Found {
			return reply.Value, nil
		}
	}
	return nil, ErrNotFound
}

// SetNodes implements §6 set_nodes: best-effort broadcast of new
// master/replica sets to every currently-known node, then to the
// Coordinator's own view.
func (c *Coordinator) SetNodes(ctx context.Context, masters, replicas []lease.NodeID, timeout time.Duration) {
	cfg := c.cfg.Get()
	targets := make([]lease.NodeID, 0, len(cfg.Masters)+len(cfg.Replicas))
	targets = append(targets, cfg.Masters...)
	targets = append(targets, cfg.Replicas...)

	broadcastCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c.tr.CallMany(broadcastCtx, targets, transport.Request{Type: transport.MsgAdminSetMasters, Masters: masters})
	c.tr.CallMany(broadcastCtx, targets, transport.Request{Type: transport.MsgAdminSetReplicas, Replicas: replicas})

	c.cfg.SetMasters(masters)
	c.cfg.SetReplicas(replicas)
}

// SetW implements §6 set_w.
func (c *Coordinator) SetW(ctx context.Context, w int, timeout time.Duration) {
	cfg := c.cfg.Get()
	targets := make([]lease.NodeID, 0, len(cfg.Masters)+len(cfg.Replicas))
	targets = append(targets, cfg.Masters...)
	targets = append(targets, cfg.Replicas...)

	broadcastCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c.tr.CallMany(broadcastCtx, targets, transport.Request{Type: transport.MsgAdminSetW, W: w})
	c.cfg.SetW(w)
}

// Summary implements §6 summary.
func (c *Coordinator) Summary() metrics.Summary {
	return c.m.Snapshot()
}

// Lag implements §6 lag: it commits a throwaway probe key and
// measures, per configured replica, how long dirty reads take to
// observe it — a propagation-time probe in the spirit of the
// teacher's Heartbeat message used to track liveness.
func (c *Coordinator) Lag(ctx context.Context, timeout time.Duration) map[lease.NodeID]time.Duration {
	cfg := c.cfg.Get()
	probeKey := lease.Key("__lag_probe__" + uuid.NewString())
	probeValue := lease.Value("probe")

	start := time.Now()
	if _, err := c.Lock(ctx, probeKey, probeValue, int64(timeout/time.Millisecond)+5000, timeout); err != nil {
		return nil
	}
	defer c.Release(context.Background(), probeKey, probeValue, timeout)

	lags := make(map[lease.NodeID]time.Duration, len(cfg.Replicas))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, replica := range cfg.Replicas {
		wg.Add(1)
		go func(replica lease.NodeID) {
			defer wg.Done()
			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				callCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
				reply, err := c.tr.Call(callCtx, replica, transport.Request{Type: transport.MsgDirtyRead, Key: probeKey})
				cancel()
				if err == nil && reply.Status == engine.StatusOk && reply.Found {
					mu.Lock()
					lags[replica] = time.Since(start)
					mu.Unlock()
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}(replica)
	}
	wg.Wait()
	return lags
}
