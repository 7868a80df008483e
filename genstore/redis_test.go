package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisGenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisGenStore(rdb, "app", ttl, true)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestRedisBumpSnapshot(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)

	if g, err := s.Snapshot(ctx, "slot:app:stats"); err != nil || g != 0 {
		t.Fatalf("missing: g=%d err=%v", g, err)
	}
	if g, err := s.Bump(ctx, "slot:app:stats"); err != nil || g != 1 {
		t.Fatalf("bump: g=%d err=%v", g, err)
	}
	if !mr.Exists("gen:app:slot:app:stats") {
		t.Fatalf("generation key not namespaced as expected")
	}
	if g, err := s.Snapshot(ctx, "slot:app:stats"); err != nil || g != 1 {
		t.Fatalf("snapshot: g=%d err=%v", g, err)
	}
}

func TestRedisBumpManyWithTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Hour)

	keys := []string{"slot:app:profile", "slot:app:stats"}
	if err := s.BumpMany(ctx, keys); err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if g, _ := s.Snapshot(ctx, k); g != 1 {
			t.Fatalf("%s: got %d want 1", k, g)
		}
		if ttl := mr.TTL("gen:app:" + k); ttl != time.Hour {
			t.Fatalf("%s ttl: got %v", k, ttl)
		}
	}

	mr.FastForward(2 * time.Hour)
	if g, _ := s.Snapshot(ctx, keys[0]); g != 0 {
		t.Fatalf("expired generation should read 0, got %d", g)
	}
}

func TestRedisSnapshotParseError(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 0)
	if err := mr.Set("gen:app:bad", "not-a-number"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Snapshot(ctx, "bad"); err == nil {
		t.Fatalf("expected parse error")
	}
}
