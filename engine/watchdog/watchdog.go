// Package watchdog implements C2's periodic reclaim sweep: PROCESSING rows
// left claimed past the stuck threshold are marked STUCK, never auto-reclaimed
// (spec §4.2 requires explicit operator action before a STUCK row becomes
// claimable again, to avoid duplicate delivery under partial failure).
package watchdog

import (
	"context"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

// Store is the subset of store.Store the watchdog depends on.
type Store interface {
	SweepStuck(ctx context.Context, now time.Time) (int64, error)
	RequeueStuck(ctx context.Context, id string) error
}

// Watchdog periodically reclaims abandoned PROCESSING rows as STUCK.
type Watchdog struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Watchdog.
func New(store Store, logger *logging.Logger) *Watchdog {
	return &Watchdog{store: store, logger: logger, now: time.Now}
}

// SweepOnce runs one reclaim pass, returning how many rows were flagged
// STUCK.
func (w *Watchdog) SweepOnce(ctx context.Context) (int64, error) {
	n, err := w.store.SweepStuck(ctx, w.now())
	if err != nil {
		return 0, err
	}
	if n > 0 && w.logger != nil {
		w.logger.WithFields(map[string]any{"count": n}).Warn("marked event audit rows stuck")
	}
	return n, nil
}

// Requeue is the explicit operator action that returns one STUCK row to
// PENDING so a worker can claim it again.
func (w *Watchdog) Requeue(ctx context.Context, id string) error {
	return w.store.RequeueStuck(ctx, id)
}

// Run loops SweepOnce on interval until ctx is cancelled, mirroring the
// teacher's ticker-driven background worker shape.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && w.logger != nil {
				w.logger.WithError(err).Error("watchdog sweep failed")
			}
		}
	}
}
