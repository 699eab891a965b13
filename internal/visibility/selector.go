// Package visibility decides which grid cells a camera can currently see and
// at which level of detail.
package visibility

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"golang.org/x/time/rate"

	"github.com/i474232898/globe-weather-grid/internal/geocell"
	"github.com/i474232898/globe-weather-grid/internal/grid"
)

// Camera is the read-only render context for one visibility pass. All
// positions are in world space; EarthTransform maps globe-local points to it.
type Camera struct {
	Position       r3.Vector
	ViewProjection Matrix4
	EarthTransform Matrix4
}

// Tier maps camera distances below MaxDistance to a cell size in degrees.
type Tier struct {
	MaxDistance float64
	Size        float64
}

// Options tunes level of detail and culling. Zero fields take the defaults.
type Options struct {
	// Tiers must be sorted by MaxDistance; the last tier covers everything
	// below MaxCameraDistance.
	Tiers []Tier

	// MaxCameraDistance suppresses all cells; the globe is too small on
	// screen to be worth fetching for.
	MaxCameraDistance float64

	// FarStrideDistance doubles the sampling stride beyond this distance.
	FarStrideDistance float64

	// MaxCellDistance is a fixed camera-to-cell cutoff. When zero the cutoff
	// follows the camera: the distance to the horizon plus HorizonMargin.
	MaxCellDistance float64
	HorizonMargin   float64

	MinAlignment float64
	ScreenMargin float64

	// MinInterval is the minimum time between two throttled passes.
	MinInterval time.Duration
}

var DefaultTiers = []Tier{
	{MaxDistance: 5, Size: 2},
	{MaxDistance: 7, Size: 5},
	{MaxDistance: math.Inf(1), Size: 10},
}

func (o Options) withDefaults() Options {
	if len(o.Tiers) == 0 {
		o.Tiers = DefaultTiers
	}
	if o.MaxCameraDistance == 0 {
		o.MaxCameraDistance = 10
	}
	if o.FarStrideDistance == 0 {
		o.FarStrideDistance = 8
	}
	if o.HorizonMargin == 0 {
		o.HorizonMargin = 0.05
	}
	if o.MinAlignment == 0 {
		o.MinAlignment = 0.1
	}
	if o.ScreenMargin == 0 {
		o.ScreenMargin = 1.5
	}
	if o.MinInterval == 0 {
		o.MinInterval = 250 * time.Millisecond
	}
	return o
}

// Verdict is the outcome of the culling pipeline for one cell.
type Verdict int

const (
	Visible Verdict = iota
	CulledDistance
	CulledBackFace
	CulledScreen
)

func (v Verdict) String() string {
	switch v {
	case Visible:
		return "visible"
	case CulledDistance:
		return "distance"
	case CulledBackFace:
		return "back-face"
	case CulledScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// Selection is the result of one visibility pass.
type Selection struct {
	Size    float64
	Visible []string
	// Fresh holds unpopulated records for visible ids the caller did not know.
	Fresh []*grid.Cell
	// Suppressed is set when the camera is beyond MaxCameraDistance.
	Suppressed bool
}

// Selector runs visibility passes. Select is rate limited; Compute is not.
type Selector struct {
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSelector returns a Selector. now may be nil to use the wall clock.
func NewSelector(opts Options, now func() time.Time) *Selector {
	opts = opts.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Selector{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		now:     now,
	}
}

// CellSize returns the level-of-detail cell size for a camera distance.
func (s *Selector) CellSize(distance float64) float64 {
	for _, t := range s.opts.Tiers {
		if distance < t.MaxDistance {
			return t.Size
		}
	}
	return s.opts.Tiers[len(s.opts.Tiers)-1].Size
}

// Select runs a pass unless one ran less than MinInterval ago, in which case
// ok is false and the caller should keep its previous selection.
func (s *Selector) Select(cam Camera, known func(id string) bool) (sel Selection, ok bool) {
	if !s.limiter.AllowN(s.now(), 1) {
		return Selection{}, false
	}
	return s.Compute(cam, known), true
}

// Compute enumerates candidate cells and keeps the ones that survive culling.
func (s *Selector) Compute(cam Camera, known func(id string) bool) Selection {
	earthCenter := cam.EarthTransform.Translation()
	distance := cam.Position.Distance(earthCenter)
	size := s.CellSize(distance)

	sel := Selection{Size: size}
	if distance >= s.opts.MaxCameraDistance {
		sel.Suppressed = true
		return sel
	}

	step := 1
	if distance > s.opts.FarStrideDistance {
		step = 2
	}

	// Rows touching the poles are skipped; their cells degenerate to triangles.
	rows := int(math.Round(180 / size))
	cols := int(math.Round(360 / size))
	for i := 1; i < rows-1; i += step {
		for j := 0; j < cols; j += step {
			c := geocell.Cell{
				Lat:  -90 + float64(i)*size,
				Lng:  -180 + float64(j)*size,
				Size: size,
			}
			if s.Classify(cam, c) != Visible {
				continue
			}

			id := c.ID()
			sel.Visible = append(sel.Visible, id)
			if known == nil || !known(id) {
				sel.Fresh = append(sel.Fresh, grid.NewCell(c))
			}
		}
	}
	return sel
}

// Classify runs the culling pipeline for a single cell: distance, then
// back-face, then screen-space.
func (s *Selector) Classify(cam Camera, c geocell.Cell) Verdict {
	lat, lng := c.Center()
	local := geocell.LatLngToVector(lat, lng, geocell.SurfaceRadius)
	center := cam.EarthTransform.Apply(local)
	earthCenter := cam.EarthTransform.Translation()

	if center.Distance(cam.Position) > s.maxCellDistance(cam.Position.Distance(earthCenter)) {
		return CulledDistance
	}

	normal := center.Sub(earthCenter).Normalize()
	toCamera := cam.Position.Sub(center).Normalize()
	if normal.Dot(toCamera) < s.opts.MinAlignment {
		return CulledBackFace
	}

	if !s.onScreen(cam, center) {
		return CulledScreen
	}
	return Visible
}

// maxCellDistance is the distance cutoff for a camera d units from the globe
// center. Surface points farther than the horizon face away from the camera.
func (s *Selector) maxCellDistance(d float64) float64 {
	if s.opts.MaxCellDistance > 0 {
		return s.opts.MaxCellDistance
	}
	r := geocell.SurfaceRadius
	if d <= r {
		return s.opts.HorizonMargin
	}
	return math.Sqrt(d*d-r*r) + s.opts.HorizonMargin
}

// onScreen reports whether p projects inside the expanded viewport and
// between the near and far planes.
func (s *Selector) onScreen(cam Camera, p r3.Vector) bool {
	clip, w := cam.ViewProjection.TransformPoint(p)
	if w <= 0 {
		return false
	}
	ndc := clip.Mul(1 / w)
	m := s.opts.ScreenMargin
	return math.Abs(ndc.X) <= m && math.Abs(ndc.Y) <= m && ndc.Z >= -1 && ndc.Z <= 1
}
