// Package preload warms a short-lived cache of current conditions over a
// coarse grid covering a region the front-end is about to show.
package preload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

const (
	DefaultStep        = 5.0
	DefaultCapacity    = 1000
	DefaultTTL         = 10 * time.Minute
	DefaultConcurrency = 4
)

var (
	ErrInvalidBounds  = errors.New("invalid region bounds")
	ErrRegionTooLarge = errors.New("region has more grid points than the cache holds")
)

// CurrentSource returns current conditions at a point.
type CurrentSource interface {
	Current(ctx context.Context, lat, lng float64) (weather.Snapshot, error)
}

// Bounds is a lat/lng rectangle; West must not exceed East.
type Bounds struct {
	North float64 `json:"north" validate:"gte=-90,lte=90"`
	South float64 `json:"south" validate:"gte=-90,lte=90,ltefield=North"`
	East  float64 `json:"east" validate:"gte=-180,lte=180"`
	West  float64 `json:"west" validate:"gte=-180,lte=180,ltefield=East"`
}

func (b Bounds) valid() bool {
	return b.South >= -90 && b.North <= 90 && b.South <= b.North &&
		b.West >= -180 && b.East <= 180 && b.West <= b.East
}

// Result counts what a PreloadRegion call did.
type Result struct {
	Points int `json:"points"`
	Cached int `json:"cached"`
	Loaded int `json:"loaded"`
	Failed int `json:"failed"`
}

// Stats describes the cache.
type Stats struct {
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	TTL      string `json:"ttl"`
}

type Options struct {
	Step        float64
	Capacity    int
	TTL         time.Duration
	Concurrency int
}

type Preloader struct {
	src   CurrentSource
	cache *expirable.LRU[string, weather.Snapshot]
	opts  Options
	log   logger.Logger
}

func New(src CurrentSource, opts Options, log logger.Logger) *Preloader {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Preloader{
		src:   src,
		cache: expirable.NewLRU[string, weather.Snapshot](opts.Capacity, nil, opts.TTL),
		opts:  opts,
		log:   log.WithField("component", "preload"),
	}
}

// Key is the cache key of the grid point nearest (lat, lng) in whole degrees.
func Key(lat, lng float64) string {
	return fmt.Sprintf("weather_%d_%d", int(math.Round(lat)), int(math.Round(lng)))
}

// PreloadRegion fetches current conditions for every grid point in b that is
// not already cached. Individual failures are logged and counted, not returned.
func (p *Preloader) PreloadRegion(ctx context.Context, b Bounds) (Result, error) {
	if !b.valid() {
		return Result{}, ErrInvalidBounds
	}

	type point struct {
		lat, lng float64
		key      string
	}
	var points []point
	seen := make(map[string]bool)
	for lat := b.South; lat <= b.North; lat += p.opts.Step {
		for lng := b.West; lng <= b.East; lng += p.opts.Step {
			k := Key(lat, lng)
			if seen[k] {
				continue
			}
			seen[k] = true
			points = append(points, point{lat: lat, lng: lng, key: k})
		}
	}
	if len(points) > p.opts.Capacity {
		return Result{}, fmt.Errorf("%w: %d points, capacity %d", ErrRegionTooLarge, len(points), p.opts.Capacity)
	}

	res := Result{Points: len(points)}
	var loaded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, pt := range points {
		if _, ok := p.cache.Get(pt.key); ok {
			res.Cached++
			continue
		}
		g.Go(func() error {
			snap, err := p.src.Current(gctx, pt.lat, pt.lng)
			if err != nil {
				failed.Add(1)
				p.log.WithError(err).WithField("key", pt.key).Warn("failed to preload weather data")
				return nil
			}
			p.cache.Add(pt.key, snap)
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Loaded = int(loaded.Load())
	res.Failed = int(failed.Load())
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// Get returns cached conditions for the grid point nearest (lat, lng).
func (p *Preloader) Get(lat, lng float64) (weather.Snapshot, bool) {
	return p.cache.Get(Key(lat, lng))
}

func (p *Preloader) Stats() Stats {
	return Stats{
		Entries:  p.cache.Len(),
		Capacity: p.opts.Capacity,
		TTL:      p.opts.TTL.String(),
	}
}
