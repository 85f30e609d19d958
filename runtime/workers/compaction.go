package workers

import (
	"context"
	"log/slog"
	"time"
)

// Snapshotter is the slice of the engine the compaction worker needs.
type Snapshotter interface {
	SaveSnapshot(clear bool) error
}

// CompactionWorker periodically snapshots the history to durable storage
// and clears the in-memory buffer. A failed write is logged and the clear
// is skipped until the next successful tick; it is never fatal.
type CompactionWorker struct {
	log      *slog.Logger
	engine   Snapshotter
	interval time.Duration
}

func NewCompactionWorker(log *slog.Logger, engine Snapshotter, interval time.Duration) *CompactionWorker {
	return &CompactionWorker{log: log, engine: engine, interval: interval}
}

func (w *CompactionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.engine.SaveSnapshot(true); err != nil {
				w.log.Error("compaction failed, keeping history buffer", "error", err)
			}
		}
	}
}
