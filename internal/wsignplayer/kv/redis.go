package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/errors"
)

// RedisStore keeps values in Redis under a per-device prefix. It lets a fleet
// of kiosks without durable local storage keep identity across reimaging.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// keyStr converts a store key to a Redis key
func (s *RedisStore) keyStr(key string) string {
	if s.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.keyStr(key)).Bytes()
	if err == redis.Nil {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.keyStr(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.keyStr(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Write(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range b.Set {
			pipe.Set(ctx, s.keyStr(k), v, 0)
		}
		if len(b.Delete) > 0 {
			full := make([]string, len(b.Delete))
			for i, k := range b.Delete {
				full[i] = s.keyStr(k)
			}
			pipe.Del(ctx, full...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis multi: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
