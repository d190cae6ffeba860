package transport

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bycanvas/locker/internal/lease"
)

// ErrUnreachable marks a destination that the Fake transport has been
// told to treat as Down, or for which no handler was ever registered.
var ErrUnreachable = errors.New("locker: destination unreachable")

// Fake is an in-process Transport wiring every node's Handler directly
// together, for Coordinator/engine tests that exercise the §8
// scenarios (partitions, contention, replication catch-up) without a
// real network.
type Fake struct {
	mu       sync.RWMutex
	handlers map[lease.NodeID]*Handler
	down     map[lease.NodeID]bool
	delay    map[lease.NodeID]time.Duration
}

// NewFake returns an empty Fake transport; register nodes with Register.
func NewFake() *Fake {
	return &Fake{
		handlers: make(map[lease.NodeID]*Handler),
		down:     make(map[lease.NodeID]bool),
		delay:    make(map[lease.NodeID]time.Duration),
	}
}

// Register wires id's Handler into the fake cluster.
func (f *Fake) Register(id lease.NodeID, h *Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[id] = h
}

// SetDown simulates a partition: down=true makes every Call/Cast to id
// fail or be silently dropped, as if the node were unreachable.
func (f *Fake) SetDown(id lease.NodeID, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[id] = down
}

// SetDelay makes every Call to id wait d before being served, useful
// for exercising the Coordinator's per-call timeout handling.
func (f *Fake) SetDelay(id lease.NodeID, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[id] = d
}

func (f *Fake) snapshot(id lease.NodeID) (*Handler, bool, time.Duration) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h := f.handlers[id]
	return h, f.down[id], f.delay[id]
}

// Call implements Transport.
func (f *Fake) Call(ctx context.Context, dest lease.NodeID, req Request) (Reply, error) {
	h, down, delay := f.snapshot(dest)
	if down || h == nil {
		return Reply{}, ErrUnreachable
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		}
	}
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}
	return h.Handle(req), nil
}

// CallMany implements Transport, fanning req out to every destination
// concurrently and waiting for all of them to settle (success, error,
// or ctx expiring).
func (f *Fake) CallMany(ctx context.Context, dests []lease.NodeID, req Request) map[lease.NodeID]CallResult {
	results := make(map[lease.NodeID]CallResult, len(dests))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dest := range dests {
		wg.Add(1)
		go func(dest lease.NodeID) {
			defer wg.Done()
			reply, err := f.Call(ctx, dest, req)
			mu.Lock()
			results[dest] = CallResult{Reply: reply, Err: err}
			mu.Unlock()
		}(dest)
	}
	wg.Wait()
	return results
}

// Cast implements Transport. There is no reply to wait for; the Fake
// hands msg to each reachable destination's handler in-line, so the
// records are applied by the time Cast returns. Down nodes are skipped
// silently.
func (f *Fake) Cast(dests []lease.NodeID, msg ApplyLogRequest) {
	for _, dest := range dests {
		h, down, _ := f.snapshot(dest)
		if down || h == nil {
			continue
		}
		h.HandleApplyLog(msg)
	}
}
