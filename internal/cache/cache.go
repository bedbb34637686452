// Package cache provides the derived-data cache layer. Everything in
// here is reconstructible from the authoritative stores; callers treat
// every read as advisory and every failure as a miss.
package cache

import (
	"context"
	"time"
)

// ScoredMember is one entry of a ranked set.
type ScoredMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Cache is the uniform interface over the active and disabled
// implementations. No method returns an error apart from Ping: backend
// failures degrade to misses so callers never branch on cache health.
type Cache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool)
	// Set stores a value with a TTL. Zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration)
	// Increment atomically adds by to a counter and returns the new
	// value, or 0 when the backend is unavailable.
	Increment(ctx context.Context, key string, by int64) int64
	// AddToSortedSet adds score to a member's rank in a sorted set.
	AddToSortedSet(ctx context.Context, set, member string, score float64)
	// TopOfSortedSet returns the n highest-scored members.
	TopOfSortedSet(ctx context.Context, set string, n int) []ScoredMember
	// PushActivity prepends to a capped activity list.
	PushActivity(ctx context.Context, key, payload string)
	// Publish sends a fire-and-forget notification.
	Publish(ctx context.Context, channel, message string)
	// Delete removes keys.
	Delete(ctx context.Context, keys ...string)
	// DeletePattern removes all keys matching a glob pattern.
	DeletePattern(ctx context.Context, pattern string)
	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}

// TTLs groups the expiry tiers used across key patterns.
type TTLs struct {
	Short    time.Duration // volatile counters
	Medium   time.Duration // aggregated metrics
	Standard time.Duration // trending sets
}

// DefaultTTLs returns the stock expiry tiers.
func DefaultTTLs() TTLs {
	return TTLs{
		Short:    5 * time.Minute,
		Medium:   30 * time.Minute,
		Standard: time.Hour,
	}
}
