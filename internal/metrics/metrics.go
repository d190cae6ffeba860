// Package metrics exposes the counters and gauges backing the client
// API's summary/lag operations (spec §6), grounded on
// github.com/prometheus/client_golang, a direct dependency of
// minio-minio.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Summary is the plain Go snapshot returned by the Coordinator's
// Summary() client operation.
type Summary struct {
	Promises   uint64
	PromiseOk  uint64
	Commits    uint64
	Aborts     uint64
	NoQuorum   uint64
}

// Metrics tracks per-node operation counters. Each counter is kept in
// a plain atomic.Uint64 (the value the Summary() client op reads) and
// mirrored into a prometheus.Counter (the value /metrics exposes).
type Metrics struct {
	promises  atomic.Uint64
	promiseOk atomic.Uint64
	commits   atomic.Uint64
	aborts    atomic.Uint64
	noQuorum  atomic.Uint64

	promisesVec  prometheus.Counter
	promiseOkVec prometheus.Counter
	commitsVec   prometheus.Counter
	abortsVec    prometheus.Counter
	noQuorumVec  prometheus.Counter
	lastPush     *prometheus.GaugeVec
}

// New creates a Metrics set labeled with node, and registers it with
// reg unless reg is nil (a nil reg keeps the counters in-process only).
func New(reg prometheus.Registerer, node string) *Metrics {
	labels := prometheus.Labels{"node": node}
	m := &Metrics{
		promisesVec: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locker", Name: "promises_total", Help: "Promise requests issued.", ConstLabels: labels,
		}),
		promiseOkVec: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locker", Name: "promise_ok_total", Help: "Promise requests answered Ok.", ConstLabels: labels,
		}),
		commitsVec: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locker", Name: "commits_total", Help: "Commit/ReleaseCommit/ExtendCommit fan-outs issued.", ConstLabels: labels,
		}),
		abortsVec: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locker", Name: "aborts_total", Help: "Best-effort Abort fan-outs issued.", ConstLabels: labels,
		}),
		noQuorumVec: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locker", Name: "no_quorum_total", Help: "Operations that failed to reach write quorum.", ConstLabels: labels,
		}),
		lastPush: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "locker", Name: "replication_last_push_timestamp_seconds",
			Help: "Unix time of the Replication Pump's last push attempt, per replica.",
		}, []string{"node", "replica"}),
	}
	if reg != nil {
		reg.MustRegister(m.promisesVec, m.promiseOkVec, m.commitsVec, m.abortsVec, m.noQuorumVec, m.lastPush)
	}
	return m
}

func (m *Metrics) IncPromise(ok bool) {
	m.promises.Add(1)
	m.promisesVec.Inc()
	if ok {
		m.promiseOk.Add(1)
		m.promiseOkVec.Inc()
	}
}

func (m *Metrics) IncCommit() {
	m.commits.Add(1)
	m.commitsVec.Inc()
}

func (m *Metrics) IncAbort() {
	m.aborts.Add(1)
	m.abortsVec.Inc()
}

func (m *Metrics) IncNoQuorum() {
	m.noQuorum.Add(1)
	m.noQuorumVec.Inc()
}

// ObservePush records a Replication Pump push attempt to replica at
// unixSeconds.
func (m *Metrics) ObservePush(node, replica string, unixSeconds float64) {
	m.lastPush.WithLabelValues(node, replica).Set(unixSeconds)
}

// Snapshot returns the plain Go counters for Coordinator.Summary().
func (m *Metrics) Snapshot() Summary {
	return Summary{
		Promises:  m.promises.Load(),
		PromiseOk: m.promiseOk.Load(),
		Commits:   m.commits.Load(),
		Aborts:    m.aborts.Load(),
		NoQuorum:  m.noQuorum.Load(),
	}
}
