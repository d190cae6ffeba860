package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/membership"
	"github.com/bycanvas/locker/internal/metrics"
	"github.com/bycanvas/locker/internal/transport"
)

type cluster struct {
	tr      *transport.Fake
	cfg     *membership.Store
	engines map[lease.NodeID]*engine.Engine
}

func newCluster(t *testing.T, masters []lease.NodeID, w int) *cluster {
	t.Helper()
	tr := transport.NewFake()
	cfg := membership.New(lease.Configuration{W: w, Masters: masters})
	engines := make(map[lease.NodeID]*engine.Engine, len(masters))
	for _, id := range masters {
		e := engine.New(id, membership.New(lease.Configuration{W: w, Masters: masters}))
		engines[id] = e
		tr.Register(id, &transport.Handler{Engine: e})
	}
	return &cluster{tr: tr, cfg: cfg, engines: engines}
}

func newCoordinator(t *testing.T, c *cluster) *Coordinator {
	t.Helper()
	return New(c.cfg, c.tr, metrics.New(nil, "test"))
}

func TestLockHappyPath(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	res, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second)
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if res.W != 2 || res.Voted != 3 || res.Committed != 3 {
		t.Fatalf("Lock result = %+v, want {2 3 3}", res)
	}
	for _, id := range masters {
		v, ok := c.engines[id].DirtyRead("k")
		if !ok || !v.Equal(lease.Value("v")) {
			t.Fatalf("node %s dirty read = %v,%v, want v,true", id, v, ok)
		}
	}
}

func TestLockContentionExactlyOneWinner(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	type outcome struct {
		err error
	}
	results := make(chan outcome, 2)
	go func() {
		_, err := co.Lock(context.Background(), "k", lease.Value("v1"), 60000, time.Second)
		results <- outcome{err}
	}()
	go func() {
		_, err := co.Lock(context.Background(), "k", lease.Value("v2"), 60000, time.Second)
		results <- outcome{err}
	}()

	var oks, failures int
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err == nil {
			oks++
		} else if o.err == ErrNoQuorum {
			failures++
		}
	}
	if oks != 1 || failures != 1 {
		t.Fatalf("got %d successes, %d NoQuorum, want exactly 1 and 1", oks, failures)
	}
}

func TestLockPartitionOfOneMaster(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)
	c.tr.SetDown("c", true)
	co := newCoordinator(t, c)

	res, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second)
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if res.Voted != 2 || res.Committed != 2 {
		t.Fatalf("Lock result = %+v, want Voted=2 Committed=2 (c down)", res)
	}
	if _, ok := c.engines["c"].DirtyRead("k"); ok {
		t.Fatal("partitioned master should not have the key")
	}
}

func TestExpiredPromiseUnblocksKey(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)

	// Simulate a coordinator that crashed mid-promise: lock entries
	// exist on all masters but no Commit ever lands.
	tag := lease.Tag("crashed-coordinator")
	for _, id := range masters {
		c.engines[id].Promise("k", lease.ABSENT, tag)
	}
	for _, id := range masters {
		if _, locked := c.engines[id].GetDebugState().Locks["k"]; !locked {
			t.Fatalf("expected stale lock on %s", id)
		}
	}
	time.Sleep(2 * time.Millisecond)
	for _, id := range masters {
		c.engines[id].SweepLocks(0) // lockTTL=0: any lock is immediately stale
	}

	co := newCoordinator(t, c)
	res, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second)
	if err != nil {
		t.Fatalf("Lock after lock-sweep should succeed, got: %v", err)
	}
	if res.Committed != 3 {
		t.Fatalf("Lock result = %+v, want Committed=3", res)
	}
}

func TestReleaseWrongValueIsNoQuorum(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	if _, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := co.Release(context.Background(), "k", lease.Value("other"), time.Second); err != ErrNoQuorum {
		t.Fatalf("Release with wrong value = %v, want ErrNoQuorum", err)
	}
	v, ok := c.engines["a"].DirtyRead("k")
	if !ok || !v.Equal(lease.Value("v")) {
		t.Fatal("key should still hold its original value after a failed release")
	}
}

func TestCASAbsentOnExistingKeyIsNoQuorum(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	if _, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	_, err := co.Lock(context.Background(), "k", lease.Value("v2"), 60000, time.Second)
	if err != ErrNoQuorum {
		t.Fatalf("Lock(ABSENT) on existing key = %v, want ErrNoQuorum", err)
	}
}

func TestExtendLeaseSucceedsWhenValueStillMatches(t *testing.T) {
	masters := []lease.NodeID{"a", "b"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	if _, err := co.Lock(context.Background(), "k", lease.Value("v"), 1000, time.Second); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := co.ExtendLease(context.Background(), "k", lease.Value("v"), 60000, time.Second); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}
	for _, id := range masters {
		if _, locked := c.engines[id].GetDebugState().Locks["k"]; locked {
			t.Fatalf("node %s should have no stray lock after a clean extend", id)
		}
	}
}

func TestExtendLeaseFailsOnValueMismatch(t *testing.T) {
	masters := []lease.NodeID{"a", "b"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	if _, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := co.ExtendLease(context.Background(), "k", lease.Value("wrong"), 60000, time.Second); err != ErrNoQuorum {
		t.Fatalf("ExtendLease with wrong value = %v, want ErrNoQuorum", err)
	}
}

func TestDirtyReadNotFound(t *testing.T) {
	masters := []lease.NodeID{"a", "b"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	_, err := co.DirtyRead(context.Background(), time.Second).Get(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("DirtyRead on missing key = %v, want ErrNotFound", err)
	}
}

func TestSetWTakesEffectOnNextOperation(t *testing.T) {
	masters := []lease.NodeID{"a", "b", "c"}
	c := newCluster(t, masters, 2)
	co := newCoordinator(t, c)

	co.SetW(context.Background(), 3, time.Second)
	c.tr.SetDown("c", true)

	_, err := co.Lock(context.Background(), "k", lease.Value("v"), 60000, time.Second)
	if err != ErrNoQuorum {
		t.Fatalf("Lock with W=3 and one master down = %v, want ErrNoQuorum", err)
	}
}
