package scheduler

import (
	"context"
	"time"

	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/logger"
	"github.com/openviewer/gridman/internal/registry"
	"github.com/openviewer/gridman/internal/selector"
)

// Revalidator periodically re-resolves every persisted grid so stored
// endpoints track what the grids actually serve. Re-fetches are
// conditional: an unchanged grid answers 304 and costs nothing.
type Revalidator struct {
	reg           *registry.Registry
	sel           *selector.Selector
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}

	// CacheMirror, when set, bulk-writes the live records back into the
	// external cache on every pass so their TTL keeps getting refreshed.
	CacheMirror func(ctx context.Context, records []*grid.Record)
}

// NewRevalidator creates a new revalidator.
func NewRevalidator(
	reg *registry.Registry,
	sel *selector.Selector,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *Revalidator {
	return &Revalidator{
		reg:           reg,
		sel:           sel,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic revalidation loop. Unlike the startup merge
// this never blocks the caller; the first pass runs after one full
// interval so boot stays fast.
func (rv *Revalidator) Start(ctx context.Context) {
	ticker := time.NewTicker(rv.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rv.Revalidate(ctx)
			case <-rv.manualTrigger:
				rv.logger.Info("manual grid revalidation triggered")
				rv.Revalidate(ctx)
			case <-rv.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the revalidator.
func (rv *Revalidator) Stop() {
	close(rv.stopCh)
}

// Revalidate re-fetches every persisted non-tombstone grid. System
// grids are compiled in and never revalidated.
func (rv *Revalidator) Revalidate(ctx context.Context) {
	records := rv.reg.PersistList()
	live := make([]*grid.Record, 0, len(records))
	for _, rec := range records {
		if rec.MarkedDeleted || !rec.Resolved() {
			continue
		}
		rv.sel.ReFetchGrid(ctx, rec.Key, false)
		live = append(live, rec)
	}

	if rv.CacheMirror != nil && len(live) > 0 {
		rv.CacheMirror(ctx, live)
	}

	rv.logger.Info("grid revalidation pass started",
		logger.Int("grids", len(live)))
}
