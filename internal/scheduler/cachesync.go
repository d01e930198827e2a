package scheduler

import (
	"context"

	"github.com/openviewer/gridman/internal/logger"
	"github.com/openviewer/gridman/internal/registry"
	"github.com/openviewer/gridman/internal/store/rediscache"
)

// CacheSyncer warms the registry from the Redis record cache on
// startup, ahead of the slower per-grid revalidation.
type CacheSyncer struct {
	store  *rediscache.Store
	reg    *registry.Registry
	logger logger.Logger
}

// NewCacheSyncer creates a new cache syncer.
func NewCacheSyncer(store *rediscache.Store, reg *registry.Registry, log logger.Logger) *CacheSyncer {
	return &CacheSyncer{
		store:  store,
		reg:    reg,
		logger: log,
	}
}

// Sync merges every cached record into the registry. The usual merge
// policy applies, so a cached record can never clobber newer file data
// or a system grid.
func (cs *CacheSyncer) Sync(ctx context.Context) error {
	cs.logger.Info("syncing grid records from redis")

	records, err := cs.store.AllRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cs.logger.Info("no grid records cached in redis")
		return nil
	}

	merged := 0
	for _, rec := range records {
		if cs.reg.Upsert(rec) == registry.MergeChanged {
			merged++
		}
	}

	cs.logger.Info("synced grid records from redis",
		logger.Int("cached", len(records)),
		logger.Int("merged", merged))

	return nil
}
