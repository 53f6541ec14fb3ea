package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"TranchePool/internal/observability"
	"TranchePool/internal/pool"
)

// SnapshotWorker periodically captures the pool's committed state and writes
// it to the snapshot store. Snapshotting reads a consistent committed state
// without blocking operations.
type SnapshotWorker struct {
	pool     *pool.Pool
	store    *SnapshotStore
	interval time.Duration
	keep     int
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewSnapshotWorker(
	p *pool.Pool,
	store *SnapshotStore,
	interval time.Duration,
	keep int,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *SnapshotWorker {
	return &SnapshotWorker{
		pool:     p,
		store:    store,
		interval: interval,
		keep:     keep,
		log:      log,
		metrics:  metrics,
	}
}

// Run snapshots on every interval tick until ctx is cancelled. A final
// snapshot is taken on shutdown so a restart loses at most the in-flight
// operation.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.snapshot(context.Background())
			return ctx.Err()
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

func (w *SnapshotWorker) snapshot(ctx context.Context) {
	start := time.Now()
	snap := w.pool.Snapshot()

	size, err := w.store.Save(ctx, snap)
	if err != nil {
		w.log.Error().Err(err).Msg("snapshot save failed")
		return
	}
	if w.keep > 0 {
		if err := w.store.Prune(ctx, w.keep); err != nil {
			w.log.Warn().Err(err).Msg("snapshot prune failed")
		}
	}

	if w.metrics != nil {
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		w.metrics.SnapshotSizeBytes.Set(float64(size))
	}
	w.log.Debug().Int("size_bytes", size).Dur("took", time.Since(start)).Msg("snapshot written")
}
