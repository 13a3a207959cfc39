package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/tickerfeed/internal/model"
)

// ErrNotFound is returned by Latest when no key exists.
var ErrNotFound = errors.New("no mirrored value")

// RedisBackend writes mirror batches with a single pipeline.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// Write implements Backend. Values are stored as JSON.
func (b *RedisBackend) Write(ctx context.Context, set map[Ref]model.TickerUpdate, del []Ref, ttl time.Duration) error {
	vals := make(map[string][]byte, len(set))
	for ref, u := range set {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", ref.Key, err)
		}
		vals[ref.Key] = data
	}
	keys := make([]string, 0, len(del))
	for _, ref := range del {
		keys = append(keys, ref.Key)
	}

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, val := range vals {
			pipe.Set(ctx, key, val, ttl)
		}
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Latest reads one mirrored value.
func (b *RedisBackend) Latest(ctx context.Context, key string) (model.TickerUpdate, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.TickerUpdate{}, ErrNotFound
		}
		return model.TickerUpdate{}, fmt.Errorf("get %s: %w", key, err)
	}

	var u model.TickerUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return model.TickerUpdate{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return u, nil
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
