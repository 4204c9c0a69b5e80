package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	// Start in-memory Redis
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisCache(rdb, ttl), mr
}

func TestRedisCache_StoreSent_Success(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, 10*time.Second)

	ctx := context.Background()
	remoteID := "3EB0C431C26A1916D2"
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreSent(ctx, "shop-1", "MSG1", "1203@g.us", remoteID, sentAt); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	key := "relay:shop-1:MSG1:1203@g.us"

	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}

	ttlRemaining := mr.TTL(key)
	if ttlRemaining <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttlRemaining)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}

	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}

	if got.RemoteMessageID != remoteID {
		t.Fatalf("expected RemoteMessageID %q, got %q", remoteID, got.RemoteMessageID)
	}
	if !got.SentAt.Equal(sentAt.UTC()) {
		t.Fatalf("expected SentAt %v, got %v", sentAt.UTC(), got.SentAt)
	}
}

func TestRedisCache_StoreSent_KeysPerDestination(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.StoreSent(ctx, "b", "m", "a@g.us", "r1", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}
	if err := cache.StoreSent(ctx, "b", "m", "c@g.us", "r2", time.Now()); err != nil {
		t.Fatalf("StoreSent() error: %v", err)
	}

	if !mr.Exists("relay:b:m:a@g.us") || !mr.Exists("relay:b:m:c@g.us") {
		t.Fatalf("expected one key per destination, got %v", mr.Keys())
	}
}

func TestRedisCache_MarkSeen_FirstOnly(t *testing.T) {
	t.Parallel()

	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	first, err := cache.MarkSeen(ctx, "b1", "MSG1")
	if err != nil {
		t.Fatalf("MarkSeen() error: %v", err)
	}
	if !first {
		t.Fatalf("expected first sighting to return true")
	}

	again, err := cache.MarkSeen(ctx, "b1", "MSG1")
	if err != nil {
		t.Fatalf("MarkSeen() error: %v", err)
	}
	if again {
		t.Fatalf("expected replay to return false")
	}

	other, err := cache.MarkSeen(ctx, "b2", "MSG1")
	if err != nil {
		t.Fatalf("MarkSeen() error: %v", err)
	}
	if !other {
		t.Fatalf("expected same message id on another bot to be new")
	}

	if ttl := mr.TTL("relay:seen:b1:MSG1"); ttl <= 0 {
		t.Fatalf("expected TTL on seen key, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	expired, err := cache.MarkSeen(ctx, "b1", "MSG1")
	if err != nil {
		t.Fatalf("MarkSeen() error: %v", err)
	}
	if !expired {
		t.Fatalf("expected message to be new again after TTL")
	}
}

func TestRedisCache_StoreSent_ContextCanceled(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cache.StoreSent(ctx, "b", "m", "d", "x", time.Now())
	if err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestNop(t *testing.T) {
	var c RelayCache = Nop{}
	first, err := c.MarkSeen(context.Background(), "b", "m")
	if err != nil || !first {
		t.Fatalf("expected Nop to treat every message as new, got %v %v", first, err)
	}
	if err := c.StoreSent(context.Background(), "b", "m", "d", "r", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
