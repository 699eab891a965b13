// Package fetch throttles and batches per-cell archive requests.
package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/i474232898/globe-weather-grid/internal/grid"
	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/metrics"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

const (
	DefaultConcurrency    = 3
	DefaultMaxPerPass     = 10
	DefaultBatchDelay     = 200 * time.Millisecond
	DefaultRequestTimeout = 5 * time.Second
)

// Sink receives cell state transitions. ResetData is called when the query
// window changes.
type Sink interface {
	OnFetchStarted(id string)
	OnFetchResolved(id string, r grid.Resolution)
	ResetData()
}

// Cache is the aggregate cache consulted before every request.
type Cache interface {
	Get(ctx context.Context, cellID, windowStart string) (*weather.Aggregate, bool)
	Set(ctx context.Context, cellID, windowStart string, agg *weather.Aggregate) error
}

// Options tunes the scheduler. Zero values take the defaults above.
type Options struct {
	Concurrency    int
	MaxPerPass     int
	BatchDelay     time.Duration
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxPerPass <= 0 {
		o.MaxPerPass = DefaultMaxPerPass
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	} else if o.BatchDelay == 0 {
		o.BatchDelay = DefaultBatchDelay
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return o
}

// PassResult summarizes one Schedule call.
type PassResult struct {
	Hits     int
	Misses   int
	Fetched  int
	Skipped  bool
	Deferred int // cells already in flight
	Backlog  int // known cells left for a later pass
}

// Scheduler issues archive requests for cells that need data. Failures are
// logged and surface only as a cleared loading flag.
//
// At most Concurrency requests run at once across Schedule and RequestCell,
// and Schedule passes never overlap.
type Scheduler struct {
	archive weather.ArchiveProvider
	cache   Cache
	sink    Sink
	log     logger.Logger
	metrics *metrics.Collector
	opts    Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	slots  *semaphore.Weighted
	passMu sync.Mutex

	// mu guards inFlight and window. Resolutions are applied to the sink
	// under mu so a window change cannot slip between check and write.
	mu       sync.Mutex
	inFlight map[string]struct{}
	window   weather.DateWindow

	wg sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock injects the time source and the delay used between waves.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func NewScheduler(archive weather.ArchiveProvider, cache Cache, sink Sink, window weather.DateWindow, opts Options, log logger.Logger, options ...Option) *Scheduler {
	s := &Scheduler{
		archive:  archive,
		cache:    cache,
		sink:     sink,
		log:      log.WithField("component", "fetch"),
		opts:     opts.withDefaults(),
		now:      time.Now,
		sleep:    sleepContext,
		inFlight: make(map[string]struct{}),
		window:   window,
	}
	s.slots = semaphore.NewWeighted(int64(s.opts.Concurrency))
	for _, o := range options {
		o(s)
	}
	return s
}

// SetWindow swaps the query window used by subsequent requests and drops the
// sink's data when the window actually changed.
func (s *Scheduler) SetWindow(w weather.DateWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == w {
		return
	}
	s.window = w
	s.sink.ResetData()
}

func (s *Scheduler) Window() weather.DateWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// InFlight reports whether a request for id is outstanding.
func (s *Scheduler) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[id]
	return ok
}

// RequestCell resolves one cell in the background. It returns false when a
// request for the cell is already outstanding.
func (s *Scheduler) RequestCell(ctx context.Context, cell *grid.Cell) bool {
	if !s.claim(cell.ID) {
		return false
	}
	window := s.Window()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(cell.ID)

		if s.resolveFromCache(ctx, cell, window) {
			return
		}
		s.fetch(ctx, cell, window)
	}()
	return true
}

// Schedule runs one scheduling pass over cells and returns when every request
// it started has finished. isNew reports which cells became visible in this
// pass; a nil isNew treats every cell as new.
//
// Cache hits are resolved first. If the new cells still missing data exceed
// MaxPerPass the pass makes no network calls at all. Otherwise up to
// MaxPerPass misses are fetched, new cells first and then the backlog in the
// order given, in waves of Concurrency with BatchDelay between waves.
func (s *Scheduler) Schedule(ctx context.Context, cells []*grid.Cell, isNew func(id string) bool) PassResult {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	var res PassResult
	window := s.Window()

	var fresh, backlog []*grid.Cell
	for _, c := range cells {
		if isNew == nil || isNew(c.ID) {
			fresh = append(fresh, c)
		} else {
			backlog = append(backlog, c)
		}
	}

	misses, _ := s.collectMisses(ctx, fresh, window, len(fresh), &res)
	if len(misses) > s.opts.MaxPerPass {
		for _, c := range misses {
			s.release(c.ID)
		}
		res.Misses = len(misses)
		res.Skipped = true
		res.Backlog = len(backlog)
		s.metrics.Pass(true)
		s.log.WithFields(map[string]interface{}{
			"misses": len(misses),
			"limit":  s.opts.MaxPerPass,
		}).Debug("too many new cells need data, skipping network for this pass")
		return res
	}
	s.metrics.Pass(false)

	more, examined := s.collectMisses(ctx, backlog, window, s.opts.MaxPerPass-len(misses), &res)
	misses = append(misses, more...)
	res.Misses = len(misses)
	res.Backlog = len(backlog) - examined

	for start := 0; start < len(misses); start += s.opts.Concurrency {
		if start > 0 {
			if err := s.sleep(ctx, s.opts.BatchDelay); err != nil {
				for _, c := range misses[start:] {
					s.release(c.ID)
				}
				return res
			}
		}

		end := min(start+s.opts.Concurrency, len(misses))
		var g errgroup.Group
		for _, c := range misses[start:end] {
			g.Go(func() error {
				defer s.release(c.ID)
				s.fetch(ctx, c, window)
				return nil
			})
		}
		_ = g.Wait()
		res.Fetched += end - start
	}
	return res
}

// collectMisses claims cells in order, resolving cache hits, until limit
// misses are held. It also reports how many cells it looked at. The returned
// misses stay claimed.
func (s *Scheduler) collectMisses(ctx context.Context, cells []*grid.Cell, window weather.DateWindow, limit int, res *PassResult) ([]*grid.Cell, int) {
	var misses []*grid.Cell
	examined := 0
	for _, c := range cells {
		if len(misses) >= limit {
			break
		}
		examined++
		if !s.claim(c.ID) {
			res.Deferred++
			continue
		}
		if s.resolveFromCache(ctx, c, window) {
			s.release(c.ID)
			res.Hits++
			continue
		}
		misses = append(misses, c)
	}
	return misses, examined
}

// Wait blocks until all background requests have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Scheduler) resolveFromCache(ctx context.Context, cell *grid.Cell, window weather.DateWindow) bool {
	agg, ok := s.cache.Get(ctx, cell.ID, window.Start)
	if !ok {
		return false
	}
	s.metrics.ObserveFetch(metrics.ResultCached, 0)
	s.resolve(cell.ID, window, grid.Resolution{Data: agg, FromCache: true, At: s.now()})
	return true
}

// resolve applies r to the sink. Data fetched for a window that has since
// been replaced is dropped; the cell only leaves the loading state.
func (s *Scheduler) resolve(id string, window weather.DateWindow, r grid.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window != window {
		r.Data = nil
		r.FromCache = false
	}
	s.sink.OnFetchResolved(id, r)
}

// fetch performs the network request for a cell the caller has claimed.
func (s *Scheduler) fetch(ctx context.Context, cell *grid.Cell, window weather.DateWindow) {
	s.sink.OnFetchStarted(cell.ID)
	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.resolve(cell.ID, window, grid.Resolution{At: s.now()})
		return
	}
	defer s.slots.Release(1)

	s.metrics.InFlight(1)
	defer s.metrics.InFlight(-1)

	lat, lng := cell.Geometry().RequestCoordinates()
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	started := s.now()
	agg, err := s.archive.FetchDaily(reqCtx, lat, lng, window)
	elapsed := s.now().Sub(started).Seconds()

	if err != nil {
		s.metrics.ObserveFetch(metrics.ResultError, elapsed)
		s.log.WithError(err).WithField("cell", cell.ID).Warn("failed to fetch cell data")
		s.resolve(cell.ID, window, grid.Resolution{At: s.now()})
		return
	}
	s.metrics.ObserveFetch(metrics.ResultSuccess, elapsed)

	if err := s.cache.Set(ctx, cell.ID, window.Start, agg); err != nil {
		s.log.WithError(err).WithField("cell", cell.ID).Warn("failed to cache cell data")
	}

	// Cached under its own window even if the grid has moved on.
	s.resolve(cell.ID, window, grid.Resolution{Data: agg, At: s.now()})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
