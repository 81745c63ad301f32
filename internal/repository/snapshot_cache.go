package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	pkgcache "SwingPull/pkg/cache"
)

// SnapshotCache keeps the latest snapshot per stream in the shared cache so a
// restarted or sibling instance can still answer reads.
type SnapshotCache struct {
	cache pkgcache.Service
	ttl   time.Duration
}

func NewSnapshotCache(cache pkgcache.Service, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{cache: cache, ttl: ttl}
}

func snapshotKey(symbol, tf string) string {
	return pkgcache.GenerateKeyWithParams("structure", symbol, tf)
}

func (c *SnapshotCache) Get(ctx context.Context, symbol, tf string) (*models.StructureSnapshot, error) {
	var snap models.StructureSnapshot
	if err := c.cache.Get(ctx, snapshotKey(symbol, tf), &snap); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", domrepo.ErrNotFound, models.StreamKey(symbol, tf))
		}
		return nil, fmt.Errorf("cache get snapshot: %w", err)
	}
	return &snap, nil
}

func (c *SnapshotCache) Set(ctx context.Context, s *models.StructureSnapshot) error {
	if err := c.cache.Set(ctx, snapshotKey(s.Symbol, s.Timeframe), s, c.ttl); err != nil {
		return fmt.Errorf("cache set snapshot: %w", err)
	}
	return nil
}

var _ domrepo.SnapshotCache = (*SnapshotCache)(nil)
