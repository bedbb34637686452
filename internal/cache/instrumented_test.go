package cache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newInstrumentedTestCache(t *testing.T) (*Instrumented, *prometheus.CounterVec, *prometheus.CounterVec) {
	t.Helper()
	inner, _ := newTestCache(t, 0)
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_cache_requests_total"},
		[]string{"operation", "outcome"},
	)
	errors := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_cache_errors_total"},
		[]string{"operation"},
	)
	return NewInstrumented(inner, requests, errors), requests, errors
}

func TestInstrumentedGetCountsHitsAndMisses(t *testing.T) {
	cache, requests, _ := newInstrumentedTestCache(t)
	ctx := context.Background()

	key := EntityMetricKey("p-1", "total_posts")
	cache.Set(ctx, key, "42", 0)

	if _, ok := cache.Get(ctx, key); !ok {
		t.Fatal("expected hit")
	}
	if _, ok := cache.Get(ctx, "psm:entity:nope:metric"); ok {
		t.Fatal("expected miss")
	}

	if got := testutil.ToFloat64(requests.WithLabelValues("get", "hit")); got != 1 {
		t.Fatalf("hit count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(requests.WithLabelValues("get", "miss")); got != 1 {
		t.Fatalf("miss count = %v, want 1", got)
	}
}

func TestInstrumentedIncrementToZeroIsNotAnError(t *testing.T) {
	cache, requests, errCounter := newInstrumentedTestCache(t)
	ctx := context.Background()

	key := EntityMetricKey("p-1", "mention_count")
	if got := cache.Increment(ctx, key, 5); got != 5 {
		t.Fatalf("Increment = %d, want 5", got)
	}
	if got := cache.Increment(ctx, key, -5); got != 0 {
		t.Fatalf("Increment = %d, want 0", got)
	}

	if got := testutil.ToFloat64(errCounter.WithLabelValues("incr")); got != 0 {
		t.Fatalf("error count = %v, want 0 for a legitimate zero result", got)
	}
	if got := testutil.ToFloat64(requests.WithLabelValues("incr", "ok")); got != 2 {
		t.Fatalf("ok count = %v, want 2", got)
	}
}
