package zone

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the reaper scans for expired zones when
// the configuration does not override it.
const DefaultSweepInterval = 30 * time.Second

// Reaper evicts zones whose lease has run out. It shares the store's
// per-zone locks with live requests: the scan is lock-free, but every
// eviction re-checks expiry under the zone lock so a concurrent renewal is
// never clobbered.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper creates a Reaper sweeping at the given interval.
func NewReaper(store *Store, interval time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Reaper{store: store, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. Intended to run in its own goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("expiration reaper running", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), r.interval)
			if n := r.store.Sweep(sweepCtx, time.Now().UTC()); n > 0 {
				r.logger.Info("evicted expired zones", zap.Int("count", n))
			}
			cancel()
		case <-ctx.Done():
			r.logger.Info("expiration reaper stopped")
			return
		}
	}
}
