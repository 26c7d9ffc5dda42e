package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Outbound-Project/outbound-bot/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const stateCacheKeyPrefix = "outbound-bot::state::v1"

type cachedStateEntry struct {
	Value   []byte
	Version string
	Found   bool
}

// CachedStateStore layers read-through caching over a base state
// store. Writes invalidate the cached entry so compare-and-swap
// versions never go stale behind the cache.
type CachedStateStore struct {
	base  core.StateStore
	cache repositorycache.CacheService
}

func NewCachedStateStore(base core.StateStore, cacheService repositorycache.CacheService) (*CachedStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: state cache service is required")
	}
	return &CachedStateStore{base: base, cache: cacheService}, nil
}

// StateCacheKey returns the deterministic cache key contract for state
// reads: outbound-bot::state::v1::<key> with the key URL-path escaped.
func StateCacheKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("sqlstore: state key is required")
	}
	return strings.Join([]string{stateCacheKeyPrefix, url.PathEscape(key)}, "::"), nil
}

func (s *CachedStateStore) Get(ctx context.Context, key string) ([]byte, string, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, "", false, fmt.Errorf("sqlstore: cached state store is not configured")
	}
	cacheKey, err := StateCacheKey(key)
	if err != nil {
		return nil, "", false, err
	}

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedStateEntry, error) {
		value, version, found, fetchErr := s.base.Get(ctx, key)
		if fetchErr != nil {
			return cachedStateEntry{}, fetchErr
		}
		return cachedStateEntry{
			Value:   copyBytes(value),
			Version: version,
			Found:   found,
		}, nil
	})
	if err != nil {
		return nil, "", false, err
	}
	return copyBytes(entry.Value), entry.Version, entry.Found, nil
}

func (s *CachedStateStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached state store is not configured")
	}
	if err := s.base.Put(ctx, key, value); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedStateStore) CompareAndSwap(ctx context.Context, key, expectedVersion string, value []byte) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached state store is not configured")
	}
	swapped, err := s.base.CompareAndSwap(ctx, key, expectedVersion, value)
	if err != nil {
		return false, err
	}
	// A lost swap still proves the cached entry is behind the store.
	if invalidateErr := s.invalidate(ctx, key); invalidateErr != nil {
		return swapped, invalidateErr
	}
	return swapped, nil
}

func (s *CachedStateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached state store is not configured")
	}
	if err := s.base.Delete(ctx, key); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedStateStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached state store is not configured")
	}
	lister, ok := s.base.(core.PrefixLister)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base state store does not support key listing")
	}
	return lister.Keys(ctx, prefix)
}

func (s *CachedStateStore) invalidate(ctx context.Context, key string) error {
	cacheKey, err := StateCacheKey(key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.StateStore = (*CachedStateStore)(nil)
var _ core.PrefixLister = (*CachedStateStore)(nil)
