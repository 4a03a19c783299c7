package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "butai:snapshot:"

// RedisStore keeps a snapshot as two JSON strings in Redis, written in one
// MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL (redis://host:port/db). An empty
// prefix uses "butai:snapshot:".
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: redis.NewClient(opt), prefix: prefix}, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		slog.Error("snapshot: failed to close redis connection", "err", err)
		return err
	}
	return nil
}

func (r *RedisStore) Save(ctx context.Context, s Snapshot) error {
	users, err := json.Marshal(s.Sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	mem, err := json.Marshal(s.Memory)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.prefix+"users", users, 0)
		p.Set(ctx, r.prefix+"user_memory", mem, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	out := Empty()
	if err := r.get(ctx, "users", &out.Sessions); err != nil {
		return Snapshot{}, err
	}
	if err := r.get(ctx, "user_memory", &out.Memory); err != nil {
		return Snapshot{}, err
	}
	return out.normalised(), nil
}

func (r *RedisStore) get(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
