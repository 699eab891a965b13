package preload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	fail  func(lat, lng float64) bool
}

func (s *countingSource) Current(_ context.Context, lat, lng float64) (weather.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail != nil && s.fail(lat, lng) {
		return weather.Snapshot{}, errors.New("upstream down")
	}
	return weather.Snapshot{Lat: lat, Lng: lng, Temperature: lat + lng}, nil
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPreloadRegionGrid(t *testing.T) {
	src := &countingSource{}
	p := New(src, Options{}, logger.Discard())

	res, err := p.PreloadRegion(context.Background(), Bounds{North: 10, South: 0, East: 20, West: 10})
	require.NoError(t, err)

	// 0,5,10 x 10,15,20
	assert.Equal(t, Result{Points: 9, Loaded: 9}, res)
	assert.Equal(t, 9, src.count())

	snap, ok := p.Get(5, 15)
	require.True(t, ok)
	assert.Equal(t, 20.0, snap.Temperature)

	_, ok = p.Get(7.5, 15)
	assert.False(t, ok)

	// A second pass only reports cache hits.
	res, err = p.PreloadRegion(context.Background(), Bounds{North: 10, South: 0, East: 20, West: 10})
	require.NoError(t, err)
	assert.Equal(t, Result{Points: 9, Cached: 9}, res)
	assert.Equal(t, 9, src.count())

	assert.Equal(t, Stats{Entries: 9, Capacity: DefaultCapacity, TTL: "10m0s"}, p.Stats())
}

func TestPreloadRegionFailuresAreCounted(t *testing.T) {
	src := &countingSource{fail: func(lat, _ float64) bool { return lat == 5 }}
	p := New(src, Options{}, logger.Discard())

	res, err := p.PreloadRegion(context.Background(), Bounds{North: 5, South: 0, East: 5, West: 0})
	require.NoError(t, err)
	assert.Equal(t, Result{Points: 4, Loaded: 2, Failed: 2}, res)

	_, ok := p.Get(5, 0)
	assert.False(t, ok)
}

func TestPreloadRegionValidation(t *testing.T) {
	p := New(&countingSource{}, Options{Capacity: 10}, logger.Discard())

	_, err := p.PreloadRegion(context.Background(), Bounds{North: 0, South: 10, East: 10, West: 0})
	assert.ErrorIs(t, err, ErrInvalidBounds)

	_, err = p.PreloadRegion(context.Background(), Bounds{North: 90, South: -90, East: 180, West: -180})
	assert.ErrorIs(t, err, ErrRegionTooLarge)
}

func TestPreloadEntriesExpire(t *testing.T) {
	p := New(&countingSource{}, Options{TTL: 30 * time.Millisecond}, logger.Discard())

	_, err := p.PreloadRegion(context.Background(), Bounds{North: 0, South: 0, East: 0, West: 0})
	require.NoError(t, err)
	_, ok := p.Get(0, 0)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := p.Get(0, 0)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
