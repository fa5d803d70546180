// Package scheduler runs upload work when connectivity allows. Work units
// are keyed: requesting a key that is already queued or running is a no-op,
// mirroring a unique-work background scheduler.
package scheduler

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Worker is the drain target, typically the upload worker.
type Worker interface {
	ProcessOne(ctx context.Context, id int64) error
	DrainAll(ctx context.Context) error
}

// Probe reports whether the network constraint currently holds.
type Probe func(ctx context.Context) bool

// DialProbe checks reachability of one address with a short timeout.
func DialProbe(addr string) Probe {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: 3 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// AlwaysOnline is the probe used in tests and demo mode.
func AlwaysOnline(context.Context) bool { return true }

// Runner owns the background upload schedule: on-demand unique-keyed runs
// plus a periodic full drain.
type Runner struct {
	worker Worker
	probe  Probe
	log    *zap.Logger
	cron   *cron.Cron

	retryEvery time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds a Runner draining via worker whenever probe passes. drainSpec is
// a cron expression for the periodic full drain, e.g. "@every 1m".
func New(worker Worker, probe Probe, drainSpec string, log *zap.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		worker:     worker,
		probe:      probe,
		log:        log,
		cron:       cron.New(),
		retryEvery: 15 * time.Second,
		inflight:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	if _, err := r.cron.AddFunc(drainSpec, r.EnqueueDrain); err != nil {
		cancel()
		return nil, fmt.Errorf("drain schedule %q: %w", drainSpec, err)
	}
	return r, nil
}

// Start begins the periodic drain schedule.
func (r *Runner) Start() { r.cron.Start() }

// Stop halts the schedule and waits for running work to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.cancel()
	r.wg.Wait()
}

// EnqueueUpload schedules one queued submission. Duplicate requests for an
// id already queued or running collapse into the existing run.
func (r *Runner) EnqueueUpload(id int64) {
	r.submit(fmt.Sprintf("submission:%d", id), func(ctx context.Context) error {
		return r.worker.ProcessOne(ctx, id)
	})
}

// EnqueueDrain schedules a full drain of the queue.
func (r *Runner) EnqueueDrain() {
	r.submit("drain", r.worker.DrainAll)
}

func (r *Runner) submit(key string, task func(ctx context.Context) error) {
	r.mu.Lock()
	if _, dup := r.inflight[key]; dup {
		r.mu.Unlock()
		return
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inflight, key)
			r.mu.Unlock()
		}()

		if !r.waitOnline() {
			return
		}
		if err := task(r.ctx); err != nil {
			r.log.Warn("scheduled work failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// waitOnline blocks until the network constraint holds or the runner stops.
func (r *Runner) waitOnline() bool {
	for {
		if r.probe(r.ctx) {
			return true
		}
		select {
		case <-r.ctx.Done():
			return false
		case <-time.After(r.retryEvery):
		}
	}
}
