package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "docrelay:batch:"

// RedisStore keeps batches as JSON values with a Redis TTL, so expiry is
// handled by Redis itself and Sweep has nothing to do.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention}
}

// Conn dials Redis and verifies the connection with a PING.
func Conn(ctx context.Context, addr, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (s *RedisStore) Put(ctx context.Context, res *Result) (string, error) {
	stored := *res
	stored.StoredAt = time.Now().UTC()
	stored.Status = StatusCompleted

	if stored.ID != "" {
		b, err := json.Marshal(&stored)
		if err != nil {
			return "", fmt.Errorf("encode batch: %w", err)
		}
		if err := s.client.Set(ctx, redisKey(stored.ID), b, s.retention).Err(); err != nil {
			return "", fmt.Errorf("redis set: %w", err)
		}
	} else {
		for {
			stored.ID = NewID()
			b, err := json.Marshal(&stored)
			if err != nil {
				return "", fmt.Errorf("encode batch: %w", err)
			}
			ok, err := s.client.SetNX(ctx, redisKey(stored.ID), b, s.retention).Result()
			if err != nil {
				return "", fmt.Errorf("redis setnx: %w", err)
			}
			if ok {
				break
			}
		}
	}
	res.ID, res.StoredAt, res.Status = stored.ID, stored.StoredAt, stored.Status
	return stored.ID, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Result, error) {
	val, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var res Result
	if err := json.Unmarshal(val, &res); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return &res, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) { return 0, nil }

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
