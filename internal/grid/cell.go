package grid

import (
	"time"

	"github.com/i474232898/globe-weather-grid/internal/geocell"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

// Cell is the state of one grid cell as seen by the renderer.
//
// Loading and Data are independent: a loading cell may still carry data from
// a previous window, and a cell with neither has not been fetched yet or its
// last fetch failed.
type Cell struct {
	ID          string             `json:"id"`
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	Size        float64            `json:"size"`
	Data        *weather.Aggregate `json:"data,omitempty"`
	Loading     bool               `json:"loading"`
	LastFetched time.Time          `json:"lastFetched,omitzero"`
}

// NewCell returns an unpopulated record for c.
func NewCell(c geocell.Cell) *Cell {
	return &Cell{
		ID:   c.ID(),
		Lat:  c.Lat,
		Lng:  c.Lng,
		Size: c.Size,
	}
}

// Geometry returns the cell's grid geometry.
func (c *Cell) Geometry() geocell.Cell {
	return geocell.Cell{Lat: c.Lat, Lng: c.Lng, Size: c.Size}
}

// State summarizes the cell for display: "pending", "resolved" or "empty".
func (c *Cell) State() string {
	switch {
	case c.Loading:
		return "pending"
	case c.Data != nil:
		return "resolved"
	default:
		return "empty"
	}
}

func (c *Cell) clone() *Cell {
	cp := *c
	return &cp
}
