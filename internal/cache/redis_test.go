package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func newTestCache(t *testing.T, activityMax int) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, activityMax, logrus.New()), mr
}

func TestRedisCacheGetSetExpiry(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	ctx := context.Background()

	key := EntityMetricKey("p-1", "total_posts")
	cache.Set(ctx, key, "42", 5*time.Minute)

	value, ok := cache.Get(ctx, key)
	if !ok || value != "42" {
		t.Fatalf("Get = (%q, %v), want (42, true)", value, ok)
	}

	mr.FastForward(6 * time.Minute)

	if _, ok := cache.Get(ctx, key); ok {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestRedisCacheGetMissOnAbsentKey(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	if _, ok := cache.Get(context.Background(), "psm:entity:nope:metric"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestConcurrentIncrementsSumExactly(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()
	key := EntityMetricKey("p-1", "mention_count")

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				cache.Increment(ctx, key, 1)
			}
		}()
	}
	wg.Wait()

	value, ok := cache.Get(ctx, key)
	if !ok {
		t.Fatal("expected counter to exist")
	}
	if value != "100" {
		t.Fatalf("counter = %s, want 100", value)
	}
}

func TestSortedSetRanking(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()
	set := TrendingTopicsKey("1h")

	cache.AddToSortedSet(ctx, set, "healthcare", 3)
	cache.AddToSortedSet(ctx, set, "economy", 7)
	cache.AddToSortedSet(ctx, set, "healthcare", 5)
	cache.AddToSortedSet(ctx, set, "climate", 2)

	top := cache.TopOfSortedSet(ctx, set, 2)
	if len(top) != 2 {
		t.Fatalf("got %d members, want 2", len(top))
	}
	if top[0].Member != "healthcare" || top[0].Score != 8 {
		t.Fatalf("top[0] = %+v, want healthcare/8", top[0])
	}
	if top[1].Member != "economy" || top[1].Score != 7 {
		t.Fatalf("top[1] = %+v, want economy/7", top[1])
	}
}

func TestPushActivityCapsList(t *testing.T) {
	cache, mr := newTestCache(t, 10)
	ctx := context.Background()
	key := ActivityKey("p-1")

	for i := 0; i < 13; i++ {
		cache.PushActivity(ctx, key, "event")
	}

	entries, err := mr.List(key)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("list length = %d, want 10 after trim", len(entries))
	}
}

func TestDeletePattern(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	ctx := context.Background()

	cache.Set(ctx, EntityMetricKey("p-1", "total_posts"), "1", 0)
	cache.Set(ctx, EntityMetricKey("p-1", "mention_count"), "2", 0)
	cache.Set(ctx, EntityMetricKey("p-2", "total_posts"), "3", 0)

	cache.DeletePattern(ctx, EntityPattern("p-1"))

	if mr.Exists(EntityMetricKey("p-1", "total_posts")) {
		t.Fatal("p-1 keys should be gone")
	}
	if mr.Exists(EntityMetricKey("p-1", "mention_count")) {
		t.Fatal("p-1 keys should be gone")
	}
	if !mr.Exists(EntityMetricKey("p-2", "total_posts")) {
		t.Fatal("p-2 keys must survive")
	}
}

func TestRedisCacheDegradesToMissWhenBackendDown(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	ctx := context.Background()

	mr.Close()

	if _, ok := cache.Get(ctx, "psm:entity:p-1:total_posts"); ok {
		t.Fatal("expected miss when backend is down")
	}
	// Writes must not panic or surface errors.
	cache.Set(ctx, "k", "v", time.Minute)
	if got := cache.Increment(ctx, "k", 1); got != 0 {
		t.Fatalf("Increment = %d, want 0 when backend is down", got)
	}
	if err := cache.Ping(ctx); err == nil {
		t.Fatal("Ping should report the outage")
	}
}
