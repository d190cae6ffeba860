package replication

import (
	"testing"
	"time"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/membership"
	"github.com/bycanvas/locker/internal/metrics"
	"github.com/bycanvas/locker/internal/transport"
)

func TestPushReplicatesAccumulatedLog(t *testing.T) {
	masterCfg := membership.New(lease.Configuration{W: 1, Masters: []lease.NodeID{"m"}, Replicas: []lease.NodeID{"r"}})
	master := engine.New("m", masterCfg)
	replica := engine.New("r", membership.New(lease.Configuration{W: 1, Masters: []lease.NodeID{"m"}}))

	tr := transport.NewFake()
	tr.Register("r", &transport.Handler{Engine: replica})

	master.Promise("k1", lease.ABSENT, "t1")
	master.Commit("t1", "k1", lease.Value("v1"), 60000)
	master.Promise("k2", lease.ABSENT, "t2")
	master.Commit("t2", "k2", lease.Value("v2"), 60000)

	p := New("m", master, masterCfg, tr, metrics.New(nil, "m"), time.Hour)
	p.Push()

	for _, tc := range []struct {
		key lease.Key
		val lease.Value
	}{{"k1", lease.Value("v1")}, {"k2", lease.Value("v2")}} {
		v, ok := replica.DirtyRead(tc.key)
		if !ok || !v.Equal(tc.val) {
			t.Fatalf("replica[%s] = %v,%v, want %v,true", tc.key, v, ok, tc.val)
		}
	}
}

func TestPushIsIdempotentAcrossRepeatedTicks(t *testing.T) {
	masterCfg := membership.New(lease.Configuration{W: 1, Masters: []lease.NodeID{"m"}, Replicas: []lease.NodeID{"r"}})
	master := engine.New("m", masterCfg)
	replica := engine.New("r", membership.New(lease.Configuration{W: 1, Masters: []lease.NodeID{"m"}}))

	tr := transport.NewFake()
	tr.Register("r", &transport.Handler{Engine: replica})

	master.Promise("k", lease.ABSENT, "t1")
	master.Commit("t1", "k", lease.Value("v1"), 60000)

	p := New("m", master, masterCfg, tr, metrics.New(nil, "m"), time.Hour)
	p.Push()
	p.Push()
	p.Push()

	v, ok := replica.DirtyRead("k")
	if !ok || !v.Equal(lease.Value("v1")) {
		t.Fatalf("replica[k] = %v,%v after repeated pushes, want v1,true", v, ok)
	}
}

func TestPushSkipsWhenNoReplicasConfigured(t *testing.T) {
	masterCfg := membership.New(lease.Configuration{W: 1, Masters: []lease.NodeID{"m"}})
	master := engine.New("m", masterCfg)
	tr := transport.NewFake()

	master.Promise("k", lease.ABSENT, "t1")
	master.Commit("t1", "k", lease.Value("v1"), 60000)

	p := New("m", master, masterCfg, tr, metrics.New(nil, "m"), time.Hour)
	p.Push() // must not panic or block with zero replicas configured
}
