package thread

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically sweeps expired threads out of a Store, independent
// of read-triggered expiry. It is an explicitly constructed instance with
// a defined lifecycle; no hidden global timer.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper sweeping the store on the given interval.
func NewReaper(store *Store, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep goroutine. Calling Start on a running reaper
// logs and does nothing, so there is never a second timer.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.logger.Warn("reaper already started, ignoring")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	r.logger.Info("reaper started", "interval", r.interval)
}

// Stop cancels the sweep goroutine and waits for it to exit. Idempotent;
// safe to call on a reaper that was never started.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Info("reaper stopped")
}

// run blocks until ctx is canceled, sweeping on each tick.
func (r *Reaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.store.DeleteExpired(); n > 0 {
				r.logger.Info("reaped expired threads", "count", n)
			}
		}
	}
}
