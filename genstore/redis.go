package genstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares per-slot generations across processes and survives
// restarts. An optional TTL keeps generation keys from piling up; an expired
// key reads as 0 and the matching payload self-heals on the next read.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string        // should match Options.Namespace
	ttl         time.Duration // 0 disables expiry
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed generation store. ttl <= 0 keeps
// keys forever. The client is not closed by Close unless owned is true.
func NewRedisGenStore(client redis.UniversalClient, namespace string, ttl time.Duration, owned bool) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl, closeClient: owned}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

// Snapshot returns the current generation. Missing keys read as 0.
func (s *RedisGenStore) Snapshot(ctx context.Context, storageKey string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(storageKey)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump increments the generation and, when a TTL is set, refreshes it in
// the same round-trip.
func (s *RedisGenStore) Bump(ctx context.Context, storageKey string) (uint64, error) {
	k := s.key(storageKey)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// BumpMany pipelines INCR (+EXPIRE) for every key in one round-trip.
func (s *RedisGenStore) BumpMany(ctx context.Context, storageKeys []string) error {
	if len(storageKeys) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, sk := range storageKeys {
			k := s.key(sk)
			p.Incr(ctx, k)
			if s.ttl > 0 {
				p.Expire(ctx, k, s.ttl)
			}
		}
		return nil
	})
	return err
}

// Cleanup is not applicable for RedisGenStore (Redis handles expiry).
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && err != redis.ErrClosed {
		return err
	}
	return nil
}
