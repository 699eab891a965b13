package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/globe-weather-grid/internal/geocell"
	"github.com/i474232898/globe-weather-grid/internal/grid"
	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/store"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

var testWindow = weather.DateWindow{Start: "2024-01-01", End: "2024-01-07"}

type call struct {
	lat, lng float64
	window   weather.DateWindow
}

// fakeArchive counts calls and tracks peak concurrency.
type fakeArchive struct {
	mu     sync.Mutex
	calls  []call
	active int32
	peak   int32
	gate   chan struct{} // when set, each call waits for a receive
	delay  time.Duration
	err    error
	agg    *weather.Aggregate
}

func (f *fakeArchive) FetchDaily(ctx context.Context, lat, lng float64, w weather.DateWindow) (*weather.Aggregate, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{lat: lat, lng: lng, window: w})
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.agg != nil {
		return f.agg, nil
	}
	return &weather.Aggregate{
		Temperatures:   []float64{lat},
		Precipitations: []float64{1},
		Dates:          []string{w.Start},
	}, nil
}

func (f *fakeArchive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	archive *fakeArchive
	cache   *store.AggregateCache
	grid    *grid.Manager
	sched   *Scheduler
	sleeps  []int32 // archive.active observed at each inter-wave delay
}

func newFixture(t *testing.T, archive *fakeArchive, opts Options) *fixture {
	t.Helper()
	m, err := grid.NewManager(0)
	require.NoError(t, err)

	fx := &fixture{
		archive: archive,
		cache:   store.NewAggregateCache(store.NewMemoryMedium(), logger.Discard()),
		grid:    m,
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		fx.sleeps = append(fx.sleeps, atomic.LoadInt32(&archive.active))
		return nil
	}
	fx.sched = NewScheduler(archive, fx.cache, m, testWindow, opts, logger.Discard(), WithClock(nil, sleep))
	return fx
}

// cells registers n distinct visible 2° cells and returns them.
func (fx *fixture) cells(t *testing.T, n int) []*grid.Cell {
	t.Helper()
	var out []*grid.Cell
	var ids []string
	for i := 0; i < n; i++ {
		g, ok := geocell.Of(0, float64(i*2), 2)
		require.True(t, ok)
		c := grid.NewCell(g)
		out = append(out, c)
		ids = append(ids, c.ID)
	}
	fx.grid.OnVisibilityChanged(2, ids, out)
	return out
}

func TestRequestCellDeduplicates(t *testing.T) {
	archive := &fakeArchive{gate: make(chan struct{})}
	fx := newFixture(t, archive, Options{})
	c := fx.cells(t, 1)[0]

	ctx := context.Background()
	assert.True(t, fx.sched.RequestCell(ctx, c))
	assert.False(t, fx.sched.RequestCell(ctx, c))
	assert.True(t, fx.sched.InFlight(c.ID))

	require.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, time.Millisecond)
	got, _ := fx.grid.Cell(c.ID)
	assert.True(t, got.Loading)

	close(archive.gate)
	fx.sched.Wait()

	assert.Equal(t, 1, archive.count())
	assert.False(t, fx.sched.InFlight(c.ID))
	got, _ = fx.grid.Cell(c.ID)
	assert.False(t, got.Loading)
	assert.NotNil(t, got.Data)
	assert.False(t, got.LastFetched.IsZero())

	// Once resolved, a new request is served from cache.
	assert.True(t, fx.sched.RequestCell(ctx, c))
	fx.sched.Wait()
	assert.Equal(t, 1, archive.count())
}

func TestScheduleRunsWavesWithConcurrencyCap(t *testing.T) {
	archive := &fakeArchive{delay: 5 * time.Millisecond}
	fx := newFixture(t, archive, Options{Concurrency: 3})
	cells := fx.cells(t, 7)

	res := fx.sched.Schedule(context.Background(), cells, nil)

	assert.False(t, res.Skipped)
	assert.Equal(t, 7, res.Misses)
	assert.Equal(t, 7, res.Fetched)
	assert.Equal(t, 7, archive.count())
	assert.LessOrEqual(t, atomic.LoadInt32(&archive.peak), int32(3))

	// Waves of 3, 3 and 1 are separated by two delays, each taken with no
	// request outstanding.
	assert.Equal(t, []int32{0, 0}, fx.sleeps)

	assert.Empty(t, fx.grid.NeedingData())
}

func TestScheduleSkipsNetworkWhenTooManyMisses(t *testing.T) {
	archive := &fakeArchive{}
	fx := newFixture(t, archive, Options{})
	cells := fx.cells(t, 15)

	res := fx.sched.Schedule(context.Background(), cells, nil)

	assert.True(t, res.Skipped)
	assert.Equal(t, 15, res.Misses)
	assert.Zero(t, archive.count())
	for _, c := range cells {
		assert.False(t, fx.sched.InFlight(c.ID))
		got, _ := fx.grid.Cell(c.ID)
		assert.False(t, got.Loading)
	}
	assert.Len(t, fx.grid.NeedingData(), 15)
}

func TestScheduleResolvesCacheHitsBeforeCounting(t *testing.T) {
	archive := &fakeArchive{}
	fx := newFixture(t, archive, Options{})
	cells := fx.cells(t, 15)

	ctx := context.Background()
	for _, c := range cells[:12] {
		require.NoError(t, fx.cache.Set(ctx, c.ID, testWindow.Start, &weather.Aggregate{Temperatures: []float64{1}}))
	}

	res := fx.sched.Schedule(ctx, cells, nil)

	assert.False(t, res.Skipped)
	assert.Equal(t, 12, res.Hits)
	assert.Equal(t, 3, res.Misses)
	assert.Equal(t, 3, archive.count())
	for _, c := range cells[:12] {
		got, _ := fx.grid.Cell(c.ID)
		assert.NotNil(t, got.Data)
		assert.True(t, got.LastFetched.IsZero(), "cache hits do not stamp LastFetched")
	}
}

func TestFailedFetchClearsLoading(t *testing.T) {
	archive := &fakeArchive{err: errors.New("archive returned 500")}
	fx := newFixture(t, archive, Options{})
	c := fx.cells(t, 1)[0]

	res := fx.sched.Schedule(context.Background(), []*grid.Cell{c}, nil)
	assert.Equal(t, 1, res.Fetched)

	got, _ := fx.grid.Cell(c.ID)
	assert.False(t, got.Loading)
	assert.Nil(t, got.Data)
	assert.False(t, fx.sched.InFlight(c.ID))

	// The cell is requested again on the next pass.
	require.Len(t, fx.grid.NeedingData(), 1)
	fx.sched.Schedule(context.Background(), fx.grid.NeedingData(), nil)
	assert.Equal(t, 2, archive.count())
}

func TestRequestTimeout(t *testing.T) {
	archive := &fakeArchive{gate: make(chan struct{})}
	fx := newFixture(t, archive, Options{RequestTimeout: 20 * time.Millisecond})
	c := fx.cells(t, 1)[0]

	fx.sched.Schedule(context.Background(), []*grid.Cell{c}, nil)

	got, _ := fx.grid.Cell(c.ID)
	assert.False(t, got.Loading)
	assert.Nil(t, got.Data)
}

func TestScheduleSkipsCellsAlreadyInFlight(t *testing.T) {
	archive := &fakeArchive{gate: make(chan struct{})}
	fx := newFixture(t, archive, Options{})
	cells := fx.cells(t, 2)

	ctx := context.Background()
	require.True(t, fx.sched.RequestCell(ctx, cells[0]))
	require.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, time.Millisecond)

	done := make(chan PassResult)
	go func() { done <- fx.sched.Schedule(ctx, cells, nil) }()
	require.Eventually(t, func() bool { return archive.count() == 2 }, time.Second, time.Millisecond)

	close(archive.gate)
	res := <-done
	fx.sched.Wait()

	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 2, archive.count())
}

func TestWindowChangeDropsInFlightResult(t *testing.T) {
	archive := &fakeArchive{gate: make(chan struct{})}
	fx := newFixture(t, archive, Options{})
	c := fx.cells(t, 1)[0]

	require.True(t, fx.sched.RequestCell(context.Background(), c))
	require.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, time.Millisecond)

	next := weather.DateWindow{Start: "2024-02-01", End: "2024-02-07"}
	fx.sched.SetWindow(next)
	assert.Equal(t, next, fx.sched.Window())
	close(archive.gate)
	fx.sched.Wait()

	got, _ := fx.grid.Cell(c.ID)
	assert.False(t, got.Loading)
	assert.Nil(t, got.Data)

	// The result is still cached under the window it was requested for.
	_, ok := fx.cache.Get(context.Background(), c.ID, testWindow.Start)
	assert.True(t, ok)
}

func TestCloseZoomCellScenario(t *testing.T) {
	archive := &fakeArchive{agg: &weather.Aggregate{
		Temperatures:   []float64{8, 10, 12},
		Precipitations: []float64{4, 5, 6},
		Dates:          []string{"2024-01-01", "2024-01-02", "2024-01-03"},
	}}
	fx := newFixture(t, archive, Options{})

	g, ok := geocell.Of(40, -74, 2)
	require.True(t, ok)
	c := grid.NewCell(g)
	require.Equal(t, "40,-74@2", c.ID)
	fx.grid.OnVisibilityChanged(2, []string{c.ID}, []*grid.Cell{c})

	fx.sched.Schedule(context.Background(), fx.grid.NeedingData(), nil)

	require.Equal(t, 1, archive.count())
	assert.Equal(t, call{lat: 41, lng: -73, window: testWindow}, archive.calls[0])

	got, _ := fx.grid.Cell(c.ID)
	require.NotNil(t, got.Data)
	assert.InDelta(t, 10.0, got.Data.AvgTemperature(), 1e-9)
	assert.InDelta(t, 5.0, got.Data.AvgPrecipitation(), 1e-9)

	cached, ok := fx.cache.Get(context.Background(), "40,-74@2", "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, got.Data, cached)
}

func TestScheduleDrainsBacklogAcrossPasses(t *testing.T) {
	archive := &fakeArchive{}
	fx := newFixture(t, archive, Options{})
	cells := fx.cells(t, 15)
	ctx := context.Background()

	res := fx.sched.Schedule(ctx, cells, nil)
	require.True(t, res.Skipped)
	require.Zero(t, archive.count())

	// Nothing new appears on later passes, so the backlog is worked off in
	// batches of at most MaxPerPass.
	seen := func(string) bool { return false }
	res = fx.sched.Schedule(ctx, fx.grid.NeedingData(), seen)
	assert.False(t, res.Skipped)
	assert.Equal(t, DefaultMaxPerPass, res.Fetched)
	assert.Equal(t, 15-DefaultMaxPerPass, res.Backlog)
	assert.Equal(t, DefaultMaxPerPass, archive.count())

	res = fx.sched.Schedule(ctx, fx.grid.NeedingData(), seen)
	assert.Equal(t, 15-DefaultMaxPerPass, res.Fetched)
	assert.Zero(t, res.Backlog)
	assert.Equal(t, 15, archive.count())
	assert.Empty(t, fx.grid.NeedingData())
}

func TestScheduleFetchesNewCellsBeforeBacklog(t *testing.T) {
	archive := &fakeArchive{}
	fx := newFixture(t, archive, Options{})
	cells := fx.cells(t, 15)

	isNew := func(id string) bool { return id == cells[13].ID || id == cells[14].ID }
	res := fx.sched.Schedule(context.Background(), cells, isNew)

	assert.False(t, res.Skipped)
	assert.Equal(t, DefaultMaxPerPass, res.Fetched)
	for _, c := range cells[13:] {
		got, _ := fx.grid.Cell(c.ID)
		assert.NotNil(t, got.Data, c.ID)
	}
	got, _ := fx.grid.Cell(cells[12].ID)
	assert.Nil(t, got.Data, "backlog beyond the per-pass limit waits")
}

// switchingCache changes the scheduler's window right after its first lookup.
type switchingCache struct {
	Cache
	once     sync.Once
	switchTo func()
}

func (c *switchingCache) Get(ctx context.Context, cellID, windowStart string) (*weather.Aggregate, bool) {
	agg, ok := c.Cache.Get(ctx, cellID, windowStart)
	c.once.Do(c.switchTo)
	return agg, ok
}

func TestWindowChangeDuringCacheLookupDropsHit(t *testing.T) {
	ctx := context.Background()
	m, err := grid.NewManager(0)
	require.NoError(t, err)
	g, _ := geocell.Of(0, 0, 2)
	c := grid.NewCell(g)
	m.OnVisibilityChanged(2, []string{c.ID}, []*grid.Cell{c})

	aggs := store.NewAggregateCache(store.NewMemoryMedium(), logger.Discard())
	require.NoError(t, aggs.Set(ctx, c.ID, testWindow.Start, &weather.Aggregate{Dates: []string{testWindow.Start}}))

	february := weather.DateWindow{Start: "2024-02-01", End: "2024-02-07"}
	cache := &switchingCache{Cache: aggs}
	archive := &fakeArchive{}
	sched := NewScheduler(archive, cache, m, testWindow, Options{}, logger.Discard())
	cache.switchTo = func() { sched.SetWindow(february) }

	res := sched.Schedule(ctx, []*grid.Cell{c}, nil)
	assert.Equal(t, 1, res.Hits)
	assert.Zero(t, archive.count())

	got, _ := m.Cell(c.ID)
	assert.Nil(t, got.Data, "January data must not land after the switch to February")
	assert.False(t, got.Loading)
	assert.Len(t, m.NeedingData(), 1)
}

func TestConcurrencyCapSpansPassesAndRequests(t *testing.T) {
	archive := &fakeArchive{delay: 50 * time.Millisecond}
	fx := newFixture(t, archive, Options{Concurrency: 3})
	cells := fx.cells(t, 9)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, part := range [][]*grid.Cell{cells[:3], cells[3:6]} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.sched.Schedule(ctx, part, nil)
		}()
	}
	for _, c := range cells[6:] {
		require.True(t, fx.sched.RequestCell(ctx, c))
	}
	wg.Wait()
	fx.sched.Wait()

	assert.Equal(t, 9, archive.count())
	assert.LessOrEqual(t, atomic.LoadInt32(&archive.peak), int32(3))
	assert.Empty(t, fx.grid.NeedingData())
}
