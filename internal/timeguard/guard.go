// Package timeguard provides a tamper-resistant notion of "now". A trusted
// absolute window is anchored to a monotonic tick counter when a quiz is
// cached; later estimates advance by tick delta only, so rolling the wall
// clock back (or forward) after the anchor has no effect.
package timeguard

import (
	"context"
	"time"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// Snapshot pins an absolute window to a monotonic anchor. Created once, at
// cache time, from server-trusted instants; read-only thereafter.
type Snapshot struct {
	StartsAt    time.Time
	EndsAt      time.Time
	AnchorTicks time.Duration
}

// Settings exposes the host's automatic-network-time switch.
type Settings interface {
	AutoTimeEnabled(ctx context.Context) (bool, error)
}

// StaticSettings is a fixed Settings value for tests and demo mode.
type StaticSettings bool

func (s StaticSettings) AutoTimeEnabled(context.Context) (bool, error) { return bool(s), nil }

// Guard estimates guarded time from snapshots. The tick source must be
// monotonic; it is injectable so tests can hold it still while the wall
// clock "changes".
type Guard struct {
	ticks    func() time.Duration
	settings Settings
}

var processStart = time.Now()

// monotonicTicks measures against process start. time.Since reads the runtime
// monotonic clock, which cannot be rolled back by the user. A process restart
// resets the counter, which the cache layer treats the same as cache loss.
func monotonicTicks() time.Duration { return time.Since(processStart) }

// New builds a Guard backed by the process monotonic clock.
func New(settings Settings) *Guard {
	return NewWithTicks(settings, monotonicTicks)
}

// NewWithTicks is for tests that need a controllable tick source.
func NewWithTicks(settings Settings, ticks func() time.Duration) *Guard {
	return &Guard{ticks: ticks, settings: settings}
}

// CreateSnapshot anchors the window to the current monotonic tick count.
// It fails when automatic network time is disabled: without network time the
// server-supplied instants cannot be trusted relative to this device.
func (g *Guard) CreateSnapshot(ctx context.Context, startsAt, endsAt time.Time) (Snapshot, error) {
	enabled, err := g.settings.AutoTimeEnabled(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if !enabled {
		return Snapshot{}, domain.ErrAutoTimeDisabled
	}
	return Snapshot{StartsAt: startsAt, EndsAt: endsAt, AnchorTicks: g.ticks()}, nil
}

// EstimateNow returns startsAt plus the monotonic delta since the anchor.
func (g *Guard) EstimateNow(s Snapshot) time.Time {
	return s.StartsAt.Add(g.ticks() - s.AnchorTicks)
}

// IsActive reports whether guarded time falls inside [StartsAt, EndsAt].
func (g *Guard) IsActive(s Snapshot) bool {
	now := g.EstimateNow(s)
	return !now.Before(s.StartsAt) && !now.After(s.EndsAt)
}

// Ticks exposes the guard's current monotonic reading, used when persisting
// anchors alongside cached records.
func (g *Guard) Ticks() time.Duration { return g.ticks() }

// AutoTimeEnabled re-exposes the settings check for callers that must gate
// downloads without creating a snapshot.
func (g *Guard) AutoTimeEnabled(ctx context.Context) (bool, error) {
	return g.settings.AutoTimeEnabled(ctx)
}
