package redis

import (
	"context"
	"errors"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/poller"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
)

// SnapshotCache persists the last observed attendance report per profile key,
// so a restarted barker diffs against what it saw before instead of treating
// the first tick as silent.
type SnapshotCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ poller.SnapshotCache = (*SnapshotCache)(nil)

// NewSnapshotCache creates a snapshot cache. ttl <= 0 uses TTLSnapshot.
func NewSnapshotCache(cache *Cache, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = TTLSnapshot
	}
	return &SnapshotCache{cache: cache, ttl: ttl}
}

// Get implements poller.SnapshotCache.
func (s *SnapshotCache) Get(ctx context.Context, key string) (attendance.Report, bool, error) {
	var report attendance.Report
	if err := s.cache.GetJSON(ctx, PrefixSnapshot+key, &report); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return attendance.Report{}, false, nil
		}
		return attendance.Report{}, false, err
	}
	return report, true, nil
}

// Put implements poller.SnapshotCache.
func (s *SnapshotCache) Put(ctx context.Context, key string, report attendance.Report) error {
	return s.cache.SetJSON(ctx, PrefixSnapshot+key, report, s.ttl)
}

// Forget drops the snapshot of key.
func (s *SnapshotCache) Forget(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, PrefixSnapshot+key)
}
