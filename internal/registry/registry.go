// Package registry holds the in-memory view of registered machine callers.
// Request-path lookups never touch the database; they read an immutable
// snapshot that a background goroutine rebuilds on an interval.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/jamesgorrie/grid/internal/db/models"
	"github.com/jamesgorrie/grid/internal/repository"
	"github.com/jamesgorrie/grid/internal/telemetry"
)

// Snapshot is an immutable view of the registered accessors, keyed by access
// key hash. Deactivated accessors stay in the snapshot so a deactivated key
// can be told apart from one that was never registered. The snapshot is never
// modified after creation; Refresh builds a new one and swaps the pointer.
type Snapshot struct {
	byKeyHash map[string]models.Accessor
	CreatedAt time.Time
	Version   int
}

// Registry provides lock-free access key lookups backed by atomic snapshot
// swaps.
type Registry struct {
	snapshot atomic.Value // holds *Snapshot
	repo     repository.AccessorRepository
	metrics  *telemetry.RegistryMetrics
}

// Option configures optional registry behaviour.
type Option func(*Registry)

// WithMetrics records refresh outcomes on the given instruments.
func WithMetrics(m *telemetry.RegistryMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates a registry and performs the initial load. The load must succeed
// before the server can start; a server that cannot see any accessors would
// reject every machine caller.
func New(ctx context.Context, repo repository.AccessorRepository, opts ...Option) (*Registry, error) {
	r := &Registry{repo: repo}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial registry load: %w", err)
	}

	return r, nil
}

// Lookup returns the accessor registered under the given key hash. The
// returned value is a copy; mutating it does not affect the snapshot.
//
// Lookup never blocks and is safe for concurrent use from any number of
// request goroutines.
func (r *Registry) Lookup(keyHash string) (models.Accessor, bool) {
	snapshot := r.get()
	if snapshot == nil {
		return models.Accessor{}, false
	}
	accessor, ok := snapshot.byKeyHash[keyHash]
	return accessor, ok
}

// Size reports how many accessors the current snapshot holds.
func (r *Registry) Size() int {
	snapshot := r.get()
	if snapshot == nil {
		return 0
	}
	return len(snapshot.byKeyHash)
}

// Version reports the current snapshot version, starting at 1 after the
// initial load.
func (r *Registry) Version() int {
	snapshot := r.get()
	if snapshot == nil {
		return 0
	}
	return snapshot.Version
}

// SnapshotAge reports how long ago the current snapshot was built. The
// healthcheck surfaces it so operators can spot a refresh loop that has
// been failing and serving stale data.
func (r *Registry) SnapshotAge() time.Duration {
	snapshot := r.get()
	if snapshot == nil {
		return 0
	}
	return time.Since(snapshot.CreatedAt)
}

func (r *Registry) get() *Snapshot {
	val := r.snapshot.Load()
	if val == nil {
		return nil
	}
	return val.(*Snapshot)
}

// Refresh rebuilds the snapshot from the database and atomically swaps it in.
// Safe to call concurrently with Lookup; readers see either the old or the
// new snapshot, never a partial one.
func (r *Registry) Refresh(ctx context.Context) error {
	start := time.Now()

	accessors, err := r.repo.List(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordRefresh(ctx, r.Size(), float64(time.Since(start).Microseconds())/1000.0, err)
		}
		return fmt.Errorf("list accessors: %w", err)
	}

	byKeyHash := make(map[string]models.Accessor, len(accessors))
	for _, accessor := range accessors {
		byKeyHash[accessor.KeyHash] = accessor
	}

	prevVersion := 0
	if prev := r.get(); prev != nil {
		prevVersion = prev.Version
	}

	r.snapshot.Store(&Snapshot{
		byKeyHash: byKeyHash,
		CreatedAt: time.Now(),
		Version:   prevVersion + 1,
	})

	if r.metrics != nil {
		r.metrics.RecordRefresh(ctx, len(byKeyHash), float64(time.Since(start).Microseconds())/1000.0, nil)
	}

	return nil
}

// Run refreshes the registry on the given interval until ctx is cancelled.
// A failed refresh keeps serving the previous snapshot; a stale view beats
// rejecting every caller while the database is away.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Printf("WARNING: accessor registry refresh failed, serving stale snapshot: %v", err)
			}
		}
	}
}
