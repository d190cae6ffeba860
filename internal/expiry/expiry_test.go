package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/membership"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := membership.New(lease.Configuration{W: 1, Masters: []lease.NodeID{"solo"}})
	return engine.New("solo", cfg)
}

func TestServicesSweepsExpiredLeaseOnTick(t *testing.T) {
	e := newTestEngine(t)
	if status := e.Promise("k", lease.ABSENT, "t1"); status != engine.StatusOk {
		t.Fatalf("Promise: %v", status)
	}
	if status := e.Commit("t1", "k", lease.Value("v"), 1); status != engine.StatusOk {
		t.Fatalf("Commit: %v", status)
	}
	time.Sleep(5 * time.Millisecond) // outlast the 1ms lease

	s := New(e, 5*time.Millisecond, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done

	if _, ok := e.DirtyRead("k"); ok {
		t.Fatal("expected lease sweep to have removed the expired key")
	}
}

func TestServicesNeverSweepsALockedKey(t *testing.T) {
	e := newTestEngine(t)
	if status := e.Promise("k", lease.ABSENT, "t1"); status != engine.StatusOk {
		t.Fatalf("Promise: %v", status)
	}
	// Lock held, no Commit ever lands: the lease sweep must not touch
	// a key that is mid-promise even though it has no lease entry yet.
	s := New(e, 2*time.Millisecond, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done

	state := e.GetDebugState()
	if _, locked := state.Locks["k"]; !locked {
		t.Fatal("lock should have survived the lease sweep")
	}
}

func TestServicesSweepsStaleLocks(t *testing.T) {
	e := newTestEngine(t)
	if status := e.Promise("k", lease.ABSENT, "stale-tag"); status != engine.StatusOk {
		t.Fatalf("Promise: %v", status)
	}

	s := New(e, time.Hour, 2*time.Millisecond)
	s.lockTTL = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-done

	if status := e.Promise("k", lease.ABSENT, "fresh-tag"); status != engine.StatusOk {
		t.Fatalf("Promise after lock sweep = %v, want Ok (stale lock reclaimed)", status)
	}
}
