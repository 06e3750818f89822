package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelope is the Redis value format. Storing the write time and logical TTL
// alongside the payload lets staleness survive a process restart: the Redis
// expiry is the stale-retention horizon, not the logical TTL.
type envelope struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"stored_at"`
	TTLMs    int64           `json:"ttl_ms"`
}

// RedisCache implements a Redis-backed cache with stale-fallback reads.
type RedisCache struct {
	client         *redis.Client
	staleRetention time.Duration
	now            func() time.Time
}

// RedisCacheConfig holds Redis cache configuration.
type RedisCacheConfig struct {
	Addr           string
	Password       string
	DB             int
	StaleRetention time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.StaleRetention <= 0 {
		cfg.StaleRetention = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client:         client,
		staleRetention: cfg.StaleRetention,
		now:            time.Now,
	}, nil
}

// Get retrieves a fresh value; logically expired envelopes are a miss.
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	env, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if r.now().Sub(env.StoredAt) > time.Duration(env.TTLMs)*time.Millisecond {
		return nil, ErrNotFound
	}
	return decode(env)
}

// GetFreshOrStale implements StaleReader.
func (r *RedisCache) GetFreshOrStale(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	env, err := r.load(ctx, key)
	if err != nil {
		return Result{}, err
	}
	now := r.now()
	age := now.Sub(env.StoredAt)
	stale := age > time.Duration(env.TTLMs)*time.Millisecond
	if stale && age > maxStale {
		return Result{}, ErrNotFound
	}
	val, err := decode(env)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: val, Stale: stale, StoredAt: env.StoredAt}, nil
}

// GetFamilyFallback implements StaleReader via a bounded SCAN over the
// family prefix, picking the most recent envelope by StoredAt.
func (r *RedisCache) GetFamilyFallback(ctx context.Context, family string, maxStale time.Duration) (Result, error) {
	now := r.now()
	var best *envelope

	iter := r.client.Scan(ctx, 0, family+"*", 256).Iterator()
	for iter.Next(ctx) {
		env, err := r.load(ctx, iter.Val())
		if err != nil {
			continue
		}
		if now.Sub(env.StoredAt) > maxStale {
			continue
		}
		if best == nil || env.StoredAt.After(best.StoredAt) {
			best = env
		}
	}
	if err := iter.Err(); err != nil {
		return Result{}, fmt.Errorf("redis scan error: %w", err)
	}
	if best == nil {
		return Result{}, ErrNotFound
	}
	val, err := decode(best)
	if err != nil {
		return Result{}, err
	}
	stale := now.Sub(best.StoredAt) > time.Duration(best.TTLMs)*time.Millisecond
	return Result{Value: val, Stale: stale, StoredAt: best.StoredAt}, nil
}

// Set stores a value with its logical TTL; the Redis key lives on for the
// stale-retention horizon so expired entries remain available as fallback.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	env := envelope{Value: raw, StoredAt: r.now(), TTLMs: ttl.Milliseconds()}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl+r.staleRetention).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a key from Redis cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Clear removes every key in the selected DB and returns the count removed.
func (r *RedisCache) Clear(ctx context.Context) (int, error) {
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize error: %w", err)
	}
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return 0, fmt.Errorf("redis flushdb error: %w", err)
	}
	return int(n), nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) load(ctx context.Context, key string) (*envelope, error) {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return &env, nil
}

func decode(env *envelope) (interface{}, error) {
	var val interface{}
	if err := json.Unmarshal(env.Value, &val); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return val, nil
}
