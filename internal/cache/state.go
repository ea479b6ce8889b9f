// Package cache puts a Redis read-through cache in front of the processing
// state lookups that status polling hammers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hl7:state:"

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

var _ store.Store = (*StateCache)(nil)

// StateCache wraps a Store. State writes go to the Store first and then
// refresh the cached value, so a cache hit is never older than the last
// transition made through this wrapper.
type StateCache struct {
	store.Store
	redisClient *redis.Client
	ttl         time.Duration
}

// NewStateCache connects to Redis and pings it before returning.
func NewStateCache(ctx context.Context, cfg *RedisConfig, backing store.Store) (*StateCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis bağlantısı kurulamadı: %w", err)
	}

	slog.Info("Redis durum önbelleği bağlandı", "address", cfg.Addr, "ttl", cfg.CacheTTL)

	return &StateCache{
		Store:       backing,
		redisClient: rdb,
		ttl:         cfg.CacheTTL,
	}, nil
}

func (c *StateCache) GetState(ctx context.Context, id string) (db.ProcessingState, error) {
	cached, err := c.redisClient.Get(ctx, keyPrefix+id).Result()
	if err == nil {
		return db.ProcessingState(cached), nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("Redis okuma hatası, depoya düşülüyor", "id", id, "error", err)
	}

	state, err := c.Store.GetState(ctx, id)
	if err != nil {
		return "", err
	}
	c.fill(ctx, id, state)
	return state, nil
}

func (c *StateCache) TransitionState(ctx context.Context, id string, from, to db.ProcessingState) error {
	if err := c.Store.TransitionState(ctx, id, from, to); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			c.invalidate(ctx, id)
		}
		return err
	}
	c.write(ctx, id, to)
	return nil
}

func (c *StateCache) Ping(ctx context.Context) error {
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return c.Store.Ping(ctx)
}

func (c *StateCache) Close() error {
	rerr := c.redisClient.Close()
	if err := c.Store.Close(); err != nil {
		return err
	}
	return rerr
}

func (c *StateCache) write(ctx context.Context, id string, state db.ProcessingState) {
	if err := c.redisClient.Set(ctx, keyPrefix+id, string(state), c.ttl).Err(); err != nil {
		slog.Warn("Durum önbelleğe yazılamadı", "id", id, "error", err)
		c.invalidate(ctx, id)
	}
}

// fill caches a state read from the store only if no transition has written
// the key meanwhile; a slow read must not replace a newer state.
func (c *StateCache) fill(ctx context.Context, id string, state db.ProcessingState) {
	if err := c.redisClient.SetNX(ctx, keyPrefix+id, string(state), c.ttl).Err(); err != nil {
		slog.Warn("Durum önbelleğe yazılamadı", "id", id, "error", err)
	}
}

func (c *StateCache) invalidate(ctx context.Context, id string) {
	if err := c.redisClient.Del(ctx, keyPrefix+id).Err(); err != nil {
		slog.Warn("Durum önbellekten silinemedi", "id", id, "error", err)
	}
}
