package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKV is the subset of redis.Cmdable the backend needs.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisBackend stores the token pair as JSON under one key, so several
// processes of the same instance share rotated tokens.
type RedisBackend struct {
	rdb redisKV
	key string
}

// NewRedisBackend creates a backend storing tokens under "<prefix>:tokens:<instance>".
func NewRedisBackend(rdb redisKV, prefix, instance string) *RedisBackend {
	if prefix == "" {
		prefix = "realtime"
	}
	return &RedisBackend{
		rdb: rdb,
		key: fmt.Sprintf("%s:tokens:%s", prefix, instance),
	}
}

// Key returns the Redis key holding the tokens.
func (b *RedisBackend) Key() string {
	return b.key
}

func (b *RedisBackend) Load(ctx context.Context) (Tokens, error) {
	raw, err := b.rdb.Get(ctx, b.key).Result()
	if errors.Is(err, redis.Nil) {
		return Tokens{}, ErrNoTokens
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("redis get %s: %w", b.key, err)
	}

	var t Tokens
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Tokens{}, fmt.Errorf("decode tokens: %w", err)
	}
	if t.AccessToken == "" {
		return Tokens{}, ErrNoTokens
	}
	return t, nil
}

func (b *RedisBackend) Save(ctx context.Context, t Tokens) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	if err := b.rdb.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	if err := b.rdb.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", b.key, err)
	}
	return nil
}

// NewRedisStore creates a TokenStore backed by Redis.
func NewRedisStore(rdb *redis.Client, prefix, instance string, logger *slog.Logger, opts ...StoreOption) *TokenStore {
	return NewTokenStore(NewRedisBackend(rdb, prefix, instance), logger, opts...)
}
