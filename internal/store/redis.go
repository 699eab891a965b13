package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures a RedisMedium.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Expiration is a server-side safety net so abandoned keys eventually go
	// away; 0 keeps keys forever. TTL semantics live in AggregateCache.
	Expiration time.Duration
}

// RedisMedium stores cache entries in Redis.
type RedisMedium struct {
	client     *redis.Client
	expiration time.Duration
}

// NewRedisMedium connects to Redis and pings it.
func NewRedisMedium(ctx context.Context, opts RedisOptions) (*RedisMedium, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisMedium{client: client, expiration: opts.Expiration}, nil
}

func (r *RedisMedium) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisMedium) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.expiration).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings the server.
func (r *RedisMedium) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisMedium) Close() error {
	return r.client.Close()
}
