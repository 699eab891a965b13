// Package globe composes the visibility selector, grid state and fetch
// scheduler into one viewer per front-end session.
package globe

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/i474232898/globe-weather-grid/internal/fetch"
	"github.com/i474232898/globe-weather-grid/internal/geocell"
	"github.com/i474232898/globe-weather-grid/internal/grid"
	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/metrics"
	"github.com/i474232898/globe-weather-grid/internal/visibility"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

// Config holds what every viewer is built from.
type Config struct {
	Archive    weather.ArchiveProvider
	Cache      fetch.Cache
	Visibility visibility.Options
	Fetch      fetch.Options
	MaxCells   int
	Now        func() time.Time
}

// CameraResult reports the outcome of a camera update.
type CameraResult struct {
	Accepted   bool     `json:"accepted"`
	Suppressed bool     `json:"suppressed"`
	CellSize   float64  `json:"cellSize"`
	Visible    []string `json:"visible"`
	Scheduled  int      `json:"scheduled"`
}

// Viewer tracks one camera and the cells it can see. Camera updates trigger
// background scheduling passes; results land in the grid asynchronously.
// At most one pass runs at a time; updates arriving meanwhile are folded
// into a single follow-up pass.
type Viewer struct {
	id       string
	selector *visibility.Selector
	grid     *grid.Manager
	sched    *fetch.Scheduler
	log      logger.Logger
	metrics  *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	earth visibility.Matrix4
	// eye is the camera position in the globe's local frame.
	eye r3.Vector

	running bool
	pending bool
	fresh   map[string]struct{} // ids added since the last pass started
}

func NewViewer(id string, cfg Config, window weather.DateWindow, log logger.Logger, m *metrics.Collector) (*Viewer, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	cells, err := grid.NewManager(cfg.MaxCells)
	if err != nil {
		return nil, err
	}

	log = log.WithField("session", id)
	ctx, cancel := context.WithCancel(context.Background())
	v := &Viewer{
		id:       id,
		selector: visibility.NewSelector(cfg.Visibility, cfg.Now),
		grid:     cells,
		log:      log,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		earth:    visibility.Identity4(),
		fresh:    make(map[string]struct{}),
	}
	v.sched = fetch.NewScheduler(cfg.Archive, cfg.Cache, cells, window, cfg.Fetch, log,
		fetch.WithMetrics(m), fetch.WithClock(cfg.Now, nil))
	return v, nil
}

func (v *Viewer) ID() string { return v.id }

// OnCamera runs a visibility pass for cam unless throttled, merges the result
// into the grid and schedules fetches for visible cells lacking data.
func (v *Viewer) OnCamera(cam visibility.Camera) CameraResult {
	eye := cam.Position
	if inv, ok := cam.EarthTransform.Inverse(); ok {
		eye = inv.Apply(cam.Position)
	}
	v.mu.Lock()
	v.earth = cam.EarthTransform
	v.eye = eye
	v.mu.Unlock()

	sel, ok := v.selector.Select(cam, v.grid.Known)
	if !ok {
		return CameraResult{}
	}

	added := v.grid.OnVisibilityChanged(sel.Size, sel.Visible, sel.Fresh)
	v.metrics.VisibleCells(len(sel.Visible))
	return CameraResult{
		Accepted:   true,
		Suppressed: sel.Suppressed,
		CellSize:   sel.Size,
		Visible:    sel.Visible,
		Scheduled:  v.scheduleNeeding(added),
	}
}

// scheduleNeeding starts a scheduling pass, or marks one pending if a pass is
// already running. added holds the ids this visibility pass introduced. It
// returns how many visible cells currently lack data.
func (v *Viewer) scheduleNeeding(added []string) int {
	needing := len(v.grid.NeedingData())
	if v.ctx.Err() != nil {
		return 0
	}

	v.mu.Lock()
	for _, id := range added {
		v.fresh[id] = struct{}{}
	}
	if v.running {
		v.pending = true
		v.mu.Unlock()
		return needing
	}
	v.running = true
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for {
			v.runPass()

			v.mu.Lock()
			if !v.pending || v.ctx.Err() != nil {
				v.running = false
				v.mu.Unlock()
				return
			}
			v.pending = false
			v.mu.Unlock()
		}
	}()
	return needing
}

// runPass schedules the cells that need data right now, nearest to the
// camera first.
func (v *Viewer) runPass() {
	v.mu.Lock()
	fresh := v.fresh
	v.fresh = make(map[string]struct{})
	eye := v.eye
	v.mu.Unlock()

	needing := v.grid.NeedingData()
	if len(needing) == 0 {
		return
	}
	dist := make(map[string]float64, len(needing))
	for _, c := range needing {
		dist[c.ID] = surfaceDistance(c, eye)
	}
	sort.SliceStable(needing, func(i, j int) bool {
		return dist[needing[i].ID] < dist[needing[j].ID]
	})

	res := v.sched.Schedule(v.ctx, needing, func(id string) bool {
		_, ok := fresh[id]
		return ok
	})
	v.log.WithFields(map[string]interface{}{
		"hits":     res.Hits,
		"misses":   res.Misses,
		"fetched":  res.Fetched,
		"skipped":  res.Skipped,
		"deferred": res.Deferred,
		"backlog":  res.Backlog,
	}).Debug("scheduling pass finished")
}

func surfaceDistance(c *grid.Cell, eye r3.Vector) float64 {
	lat, lng := c.Geometry().Center()
	return geocell.LatLngToVector(lat, lng, geocell.SurfaceRadius).Distance(eye)
}

// SetWindow switches the query window. Cell data from the previous window is
// dropped and the visible cells are scheduled again.
func (v *Viewer) SetWindow(w weather.DateWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	v.sched.SetWindow(w)
	v.scheduleNeeding(nil)
	return nil
}

func (v *Viewer) Window() weather.DateWindow {
	return v.sched.Window()
}

// Pick resolves a world-space point on the globe to a known cell, undoing the
// Earth transform of the last camera update.
func (v *Viewer) Pick(point r3.Vector) (*grid.Cell, bool) {
	v.mu.Lock()
	earth := v.earth
	v.mu.Unlock()

	inv, ok := earth.Inverse()
	if !ok {
		return nil, false
	}
	return v.grid.OnCellClicked(inv.Apply(point))
}

// Cells returns the visible cells with their current state.
func (v *Viewer) Cells() grid.View {
	return v.grid.Snapshot()
}

// Wait blocks until in-progress scheduling passes finish.
func (v *Viewer) Wait() {
	v.wg.Wait()
	v.sched.Wait()
}

// Close cancels outstanding requests and waits for them to unwind.
func (v *Viewer) Close() {
	v.cancel()
	v.Wait()
}

func (v *Viewer) String() string {
	return fmt.Sprintf("viewer(%s)", v.id)
}
