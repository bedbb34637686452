package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReadThrough wraps a Cache with loader deduplication: concurrent
// misses for the same key invoke the loader once. Because every cache
// failure is a miss, the result is always the authoritative value
// whether the underlying cache is active or disabled.
type ReadThrough struct {
	cache Cache
	group singleflight.Group
}

func NewReadThrough(cache Cache) *ReadThrough {
	return &ReadThrough{cache: cache}
}

// Load returns the cached value for key, or runs loader and caches the
// result with ttl.
func (r *ReadThrough) Load(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (string, error)) (string, error) {
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	result, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Another flight may have populated the key while we waited.
		if value, ok := r.cache.Get(ctx, key); ok {
			return value, nil
		}
		value, err := loader(ctx)
		if err != nil {
			return "", err
		}
		r.cache.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops a key so the next Load hits the loader.
func (r *ReadThrough) Invalidate(ctx context.Context, key string) {
	r.cache.Delete(ctx, key)
}
