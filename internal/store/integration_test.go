package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against real servers when their address is provided.

func TestRedisMedium(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	r, err := NewRedisMedium(ctx, RedisOptions{Addr: addr, Expiration: time.Minute})
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Get(ctx, "weather_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "weather_test", "v1"))
	v, ok, err := r.Get(ctx, "weather_test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestPostgresMedium(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	p, err := NewPostgresMedium(ctx, PostgresOptions{DSN: dsn})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Set(ctx, "weather_test", "v1"))
	require.NoError(t, p.Set(ctx, "weather_test", "v2"))
	v, ok, err := p.Get(ctx, "weather_test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	_, err = p.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, ok, err = p.Get(ctx, "weather_test")
	require.NoError(t, err)
	assert.False(t, ok)
}
