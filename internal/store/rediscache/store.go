package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openviewer/gridman/internal/grid"
)

// DefaultRecordTTL is how long a cached grid record stays valid. Stale
// entries are re-resolved by the revalidation scheduler well before
// this expires; the TTL is only the backstop for grids that vanish.
const DefaultRecordTTL = 48 * time.Hour

// ErrNotCached is returned when a grid key has no cache entry.
var ErrNotCached = errors.New("grid not cached")

// Store caches resolved grid records in Redis so a restart does not
// have to re-fetch every known grid. The registry stays authoritative;
// the cache is best effort.
type Store struct {
	client *redis.Client
}

// NewStore creates a new grid record cache on top of client.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// SaveRecord caches one resolved record.
func (s *Store) SaveRecord(ctx context.Context, rec *grid.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal grid record: %w", err)
	}

	if err := s.client.Set(ctx, GridKey(rec.Key), data, DefaultRecordTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache grid record: %w", err)
	}
	if err := s.client.SAdd(ctx, AllGridsKey(), rec.Key).Err(); err != nil {
		return fmt.Errorf("failed to add grid to set: %w", err)
	}

	return nil
}

// GetRecord retrieves one cached record by grid key.
func (s *Store) GetRecord(ctx context.Context, key string) (*grid.Record, error) {
	data, err := s.client.Get(ctx, GridKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotCached, key)
		}
		return nil, fmt.Errorf("failed to get cached grid record: %w", err)
	}

	var rec grid.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grid record: %w", err)
	}

	return &rec, nil
}

// AllRecords retrieves every cached record. Entries that expired out
// from under the key set are skipped.
func (s *Store) AllRecords(ctx context.Context) ([]*grid.Record, error) {
	keys, err := s.client.SMembers(ctx, AllGridsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cached grid keys: %w", err)
	}
	if len(keys) == 0 {
		return []*grid.Record{}, nil
	}

	records := make([]*grid.Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.GetRecord(ctx, key)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// DeleteRecord drops one cached record.
func (s *Store) DeleteRecord(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, GridKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached grid record: %w", err)
	}
	if err := s.client.SRem(ctx, AllGridsKey(), key).Err(); err != nil {
		return fmt.Errorf("failed to remove grid from set: %w", err)
	}
	return nil
}

// SaveRecordsMany caches multiple records in one pipeline.
func (s *Store) SaveRecordsMany(ctx context.Context, records []*grid.Record) error {
	pipe := s.client.Pipeline()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal grid record %s: %w", rec.Key, err)
		}
		pipe.Set(ctx, GridKey(rec.Key), data, DefaultRecordTTL)
		pipe.SAdd(ctx, AllGridsKey(), rec.Key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache grid records: %w", err)
	}

	return nil
}
