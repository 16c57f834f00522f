package objectstore

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore memoizes Get results. Task artifacts are write-once, so a
// fetched payload never goes stale. Task definitions are the exception and
// always reach the origin, as does Stat, since existence is exactly what
// pollers are waiting to change.
type CachedStore struct {
	origin Store
	blobs  *lru.Cache[string, []byte]

	hits        atomic.Uint64
	misses      atomic.Uint64
	originReads atomic.Uint64
}

type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	OriginReads uint64
}

func NewCachedStore(origin Store, maxEntries int) (*CachedStore, error) {
	if origin == nil {
		return nil, fmt.Errorf("origin store is required")
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	blobs, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("init blob cache: %w", err)
	}
	return &CachedStore{origin: origin, blobs: blobs}, nil
}

func (s *CachedStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	return s.origin.Stat(ctx, key)
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	key = normalizeKey(key)
	if IsTaskDefinitionKey(key) {
		s.originReads.Add(1)
		return s.origin.Get(ctx, key)
	}
	if raw, ok := s.blobs.Get(key); ok {
		s.hits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.misses.Add(1)
	s.originReads.Add(1)

	raw, err := s.origin.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	copied := append([]byte(nil), raw...)
	s.blobs.Add(key, copied)
	return append([]byte(nil), copied...), nil
}

func (s *CachedStore) Metrics() CacheMetrics {
	if s == nil {
		return CacheMetrics{}
	}
	return CacheMetrics{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		OriginReads: s.originReads.Load(),
	}
}

var _ Store = (*CachedStore)(nil)
