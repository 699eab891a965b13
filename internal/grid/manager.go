// Package grid holds the authoritative cell-id to cell-record mapping that
// the renderer reads.
package grid

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/i474232898/globe-weather-grid/internal/geocell"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

// DefaultMaxCells bounds the in-memory cell map. A full 2° grid is 16200 cells.
const DefaultMaxCells = 32768

// Resolution is the outcome of a fetch or cache lookup for one cell.
// Data is nil when the fetch failed.
type Resolution struct {
	Data      *weather.Aggregate
	FromCache bool
	At        time.Time
}

// View is a consistent copy of the visible part of the grid.
type View struct {
	Size  float64 `json:"cellSize"`
	Cells []*Cell `json:"cells"`
}

// Manager merges visibility and fetch events into the cell map. It does no I/O.
//
// The map is an LRU bounded at maxCells; every visibility pass touches the
// visible ids, so eviction follows last-visible time.
type Manager struct {
	mu      sync.Mutex
	cells   *lru.Cache[string, *Cell]
	visible []string
	size    float64
}

// NewManager returns a Manager holding at most maxCells records.
func NewManager(maxCells int) (*Manager, error) {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	cells, err := lru.New[string, *Cell](maxCells)
	if err != nil {
		return nil, fmt.Errorf("create cell map: %w", err)
	}
	return &Manager{cells: cells}, nil
}

// Known reports whether id has a record.
func (m *Manager) Known(id string) bool {
	return m.cells.Contains(id)
}

// OnVisibilityChanged records the new visible set at the given cell size and
// adds fresh records for unknown ids. Existing records keep their data and
// loading state. It returns the ids that were added.
func (m *Manager) OnVisibilityChanged(size float64, visible []string, fresh []*Cell) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.size = size
	m.visible = append(m.visible[:0:0], visible...)

	for _, id := range visible {
		m.cells.Get(id) // touch
	}

	var added []string
	for _, c := range fresh {
		if m.cells.Contains(c.ID) {
			continue
		}
		m.cells.Add(c.ID, c.clone())
		added = append(added, c.ID)
	}
	return added
}

// OnFetchStarted marks a cell as loading.
func (m *Manager) OnFetchStarted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.lookup(id); ok {
		c.Loading = true
	}
}

// OnFetchResolved applies a fetch or cache outcome. Results for cells that
// are no longer visible, or were evicted, are still written.
func (m *Manager) OnFetchResolved(id string, r Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.lookup(id)
	if !ok {
		return
	}
	c.Loading = false
	if r.Data == nil {
		return
	}
	c.Data = r.Data
	if !r.FromCache {
		c.LastFetched = r.At
	}
}

// lookup returns the record for id, recreating it from the id when it was
// evicted. Callers hold m.mu.
func (m *Manager) lookup(id string) (*Cell, bool) {
	if c, ok := m.cells.Peek(id); ok {
		return c, true
	}
	g, ok := geocell.ParseCellID(id)
	if !ok {
		return nil, false
	}
	c := NewCell(g)
	m.cells.Add(id, c)
	return c, true
}

// OnCellClicked resolves a pick point in the globe's local frame to the known
// cell at the current size.
func (m *Manager) OnCellClicked(point r3.Vector) (*Cell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.size == 0 {
		return nil, false
	}
	lat, lng := geocell.VectorToLatLng(point)
	id, ok := geocell.CellID(lat, lng, m.size)
	if !ok {
		return nil, false
	}
	c, ok := m.cells.Peek(id)
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// NeedingData returns visible cells that have no data and are not loading,
// in visibility order. Failed cells show up here again on the next pass.
func (m *Manager) NeedingData() []*Cell {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Cell
	for _, id := range m.visible {
		c, ok := m.cells.Peek(id)
		if !ok || c.Loading || c.Data != nil {
			continue
		}
		out = append(out, c.clone())
	}
	return out
}

// Cell returns a copy of the record for id.
func (m *Manager) Cell(id string) (*Cell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cells.Peek(id)
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Snapshot returns copies of all visible records.
func (m *Manager) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{Size: m.size, Cells: make([]*Cell, 0, len(m.visible))}
	for _, id := range m.visible {
		if c, ok := m.cells.Peek(id); ok {
			v.Cells = append(v.Cells, c.clone())
		}
	}
	return v
}

// Visible returns the ids of the last visibility pass.
func (m *Manager) Visible() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.visible...)
}

// ResetData drops data from every record, keeping the records themselves.
// Used when the query window changes.
func (m *Manager) ResetData() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.cells.Keys() {
		if c, ok := m.cells.Peek(id); ok {
			c.Data = nil
			c.LastFetched = time.Time{}
		}
	}
}

// Len returns the number of records held.
func (m *Manager) Len() int {
	return m.cells.Len()
}
