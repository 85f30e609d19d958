package workers

import (
	"context"
	"log/slog"
	"time"
)

// Evicter is the slice of the engine the sweeper needs.
type Evicter interface {
	EvictIdle(timeout time.Duration) int
}

// SweeperWorker evicts sessions inactive beyond the timeout. It stands in
// for disconnect detection on the poll-based transport, which has no
// persistent connection to observe.
type SweeperWorker struct {
	log      *slog.Logger
	engine   Evicter
	interval time.Duration
	timeout  time.Duration
}

func NewSweeperWorker(log *slog.Logger, engine Evicter, interval, timeout time.Duration) *SweeperWorker {
	return &SweeperWorker{log: log, engine: engine, interval: interval, timeout: timeout}
}

func (w *SweeperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := w.engine.EvictIdle(w.timeout); n > 0 {
				w.log.Info("swept idle sessions", "count", n)
			}
		}
	}
}
