package cache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"soapbox/pkg/logging"
)

// RedisCache is the active cache implementation. Every backend error is
// logged and degraded to a miss; callers fall back to the authoritative
// stores.
type RedisCache struct {
	client         goredis.UniversalClient
	logger         logging.Logger
	activityMaxLen int64
}

func NewRedisCache(client goredis.UniversalClient, activityMaxLen int, logger logging.Logger) *RedisCache {
	if activityMaxLen <= 0 {
		activityMaxLen = 1000
	}
	return &RedisCache{
		client:         client,
		logger:         logger,
		activityMaxLen: int64(activityMaxLen),
	}
}

func (c *RedisCache) miss(op, key string, err error) {
	c.logger.WithError(err).WithFields(logging.Fields{
		"op":  op,
		"key": key,
	}).Warn("Cache backend error, degrading to miss")
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false
	}
	if err != nil {
		c.miss("get", key, err)
		return "", false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.miss("set", key, err)
	}
}

func (c *RedisCache) Increment(ctx context.Context, key string, by int64) int64 {
	value, err := c.client.IncrBy(ctx, key, by).Result()
	if err != nil {
		c.miss("incrby", key, err)
		return 0
	}
	return value
}

func (c *RedisCache) AddToSortedSet(ctx context.Context, set, member string, score float64) {
	if err := c.client.ZIncrBy(ctx, set, score, member).Err(); err != nil {
		c.miss("zincrby", set, err)
	}
}

func (c *RedisCache) TopOfSortedSet(ctx context.Context, set string, n int) []ScoredMember {
	if n <= 0 {
		return nil
	}
	results, err := c.client.ZRevRangeWithScores(ctx, set, 0, int64(n-1)).Result()
	if err != nil {
		c.miss("zrevrange", set, err)
		return nil
	}
	members := make([]ScoredMember, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members
}

func (c *RedisCache) PushActivity(ctx context.Context, key, payload string) {
	if err := c.client.LPush(ctx, key, payload).Err(); err != nil {
		c.miss("lpush", key, err)
		return
	}
	length, err := c.client.LLen(ctx, key).Result()
	if err != nil {
		c.miss("llen", key, err)
		return
	}
	// Trim lazily once the list overshoots by 20% to avoid trimming on
	// every push.
	if length > c.activityMaxLen+c.activityMaxLen/5 {
		if err := c.client.LTrim(ctx, key, 0, c.activityMaxLen-1).Err(); err != nil {
			c.miss("ltrim", key, err)
		}
	}
}

func (c *RedisCache) Publish(ctx context.Context, channel, message string) {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		c.miss("publish", channel, err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.miss("del", keys[0], err)
	}
}

func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.miss("scan", pattern, err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.miss("del", pattern, err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
