package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingWorker struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	ones     []int64
	drains   int32
	blocking bool
}

func (w *countingWorker) ProcessOne(_ context.Context, id int64) error {
	if w.blocking {
		w.started <- struct{}{}
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ones = append(w.ones, id)
	return nil
}

func (w *countingWorker) DrainAll(context.Context) error {
	atomic.AddInt32(&w.drains, 1)
	return nil
}

func newRunner(t *testing.T, w Worker, probe Probe) *Runner {
	t.Helper()
	r, err := New(w, probe, "@every 1h", zap.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.retryEvery = 5 * time.Millisecond
	t.Cleanup(r.Stop)
	return r
}

func TestDuplicateKeysCollapse(t *testing.T) {
	w := &countingWorker{blocking: true, started: make(chan struct{}, 1), release: make(chan struct{})}
	r := newRunner(t, w, AlwaysOnline)

	r.EnqueueUpload(7)
	<-w.started
	// While the first run holds the key, repeats are dropped.
	r.EnqueueUpload(7)
	r.EnqueueUpload(7)
	close(w.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		n := len(w.ones)
		w.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected exactly 1 run, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkWaitsForConnectivity(t *testing.T) {
	var online atomic.Bool
	w := &countingWorker{}
	r := newRunner(t, w, func(context.Context) bool { return online.Load() })

	r.EnqueueDrain()
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&w.drains) != 0 {
		t.Fatal("drain ran while offline")
	}

	online.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&w.drains) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("drain never ran after connectivity returned")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStopAbandonsOfflineWork(t *testing.T) {
	w := &countingWorker{}
	r, err := New(w, func(context.Context) bool { return false }, "@every 1h", zap.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.retryEvery = time.Hour

	r.EnqueueUpload(1)
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on offline work")
	}
	if len(w.ones) != 0 {
		t.Fatal("offline work should have been abandoned")
	}
}
