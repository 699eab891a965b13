package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/metrics"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

const (
	// DefaultTTL is how long a persisted aggregate stays valid.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "weather_"
)

// entry is the persisted form of a cached aggregate.
type entry struct {
	Data      *weather.Aggregate `msgpack:"data"`
	Timestamp int64              `msgpack:"ts"` // unix millis
}

// Key builds the persisted key for a cell and the start of its date window.
func Key(cellID, windowStart string) string {
	return keyPrefix + cellID + "_" + windowStart
}

// AggregateCache is a TTL cache of cell aggregates layered over a Medium.
// Medium failures and undecodable entries are treated as misses.
type AggregateCache struct {
	medium  Medium
	ttl     time.Duration
	now     func() time.Time
	log     logger.Logger
	metrics *metrics.Collector
}

// CacheOption customizes an AggregateCache.
type CacheOption func(*AggregateCache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *AggregateCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source used for timestamps and expiry.
func WithClock(now func() time.Time) CacheOption {
	return func(c *AggregateCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics records hits and misses on m.
func WithMetrics(m *metrics.Collector) CacheOption {
	return func(c *AggregateCache) { c.metrics = m }
}

func NewAggregateCache(m Medium, log logger.Logger, opts ...CacheOption) *AggregateCache {
	c := &AggregateCache{
		medium: m,
		ttl:    DefaultTTL,
		now:    time.Now,
		log:    log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *AggregateCache) TTL() time.Duration { return c.ttl }

// Get returns the aggregate stored for (cellID, windowStart) if it was written
// less than TTL ago.
func (c *AggregateCache) Get(ctx context.Context, cellID, windowStart string) (*weather.Aggregate, bool) {
	key := Key(cellID, windowStart)

	raw, ok, err := c.medium.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache read failed")
		c.metrics.CacheMiss()
		return nil, false
	}
	if !ok {
		c.metrics.CacheMiss()
		return nil, false
	}

	e, err := decodeEntry(raw)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("discarding corrupt cache entry")
		c.metrics.CacheMiss()
		return nil, false
	}
	if c.expired(e) {
		c.metrics.CacheMiss()
		return nil, false
	}

	c.metrics.CacheHit()
	return e.Data, true
}

// Set stores agg stamped with the current time.
func (c *AggregateCache) Set(ctx context.Context, cellID, windowStart string, agg *weather.Aggregate) error {
	raw, err := encodeEntry(entry{Data: agg, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	key := Key(cellID, windowStart)
	if err := c.medium.Set(ctx, key, raw); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
		return err
	}
	return nil
}

// stale reports whether a raw persisted value is expired or unreadable.
func (c *AggregateCache) stale(raw string) bool {
	e, err := decodeEntry(raw)
	if err != nil {
		return true
	}
	return c.expired(e)
}

func (c *AggregateCache) expired(e entry) bool {
	age := c.now().Sub(time.UnixMilli(e.Timestamp))
	return age > c.ttl
}

func encodeEntry(e entry) (string, error) {
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeEntry(raw string) (entry, error) {
	var e entry
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return e, err
	}
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return e, err
	}
	if e.Data == nil {
		return e, fmt.Errorf("entry has no data")
	}
	return e, nil
}

// Purge removes expired entries from media without native expiry and
// returns how many were removed. Redis expires keys on its own.
func (c *AggregateCache) Purge(ctx context.Context) (int, error) {
	switch m := c.medium.(type) {
	case *MemoryMedium:
		return m.Purge(keyPrefix, func(_, v string) bool { return c.stale(v) }), nil
	case *PostgresMedium:
		n, err := m.DeleteOlderThan(ctx, c.now().Add(-c.ttl))
		return int(n), err
	default:
		return 0, nil
	}
}
