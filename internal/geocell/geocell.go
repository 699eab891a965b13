// Package geocell maps latitude/longitude pairs onto a regular grid of
// lat/lng-aligned cells and back.
package geocell

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/i474232898/globe-weather-grid/internal/common"
)

const (
	// CoordinateDecimals is the precision cell origins are rounded to before they
	// are formatted into an id. It absorbs float noise from floor(x/size)*size.
	CoordinateDecimals = 4

	// RequestDecimals is the precision of coordinates sent upstream. Coarser
	// coordinates trade a little spatial accuracy for a higher cache hit rate.
	RequestDecimals = 2
)

// Cell is the geometry of one grid cell: its southwest corner and its size in degrees.
type Cell struct {
	Lat  float64
	Lng  float64
	Size float64
}

// CellID returns the id of the cell of the given size containing (lat, lng).
// ok is false when the coordinates are out of range or size is not positive;
// such inputs are rejected, never clamped.
func CellID(lat, lng, size float64) (id string, ok bool) {
	if !validInput(lat, lng, size) {
		return "", false
	}
	lat0, lng0 := CellOrigin(lat, lng, size)
	return formatID(lat0, lng0, size), true
}

// CellOrigin returns the southwest corner of the cell containing (lat, lng).
func CellOrigin(lat, lng, size float64) (lat0, lng0 float64) {
	lat0 = common.Round(math.Floor(lat/size)*size, CoordinateDecimals)
	lng0 = common.Round(math.Floor(lng/size)*size, CoordinateDecimals)
	return
}

// Of returns the Cell containing (lat, lng), or false for invalid input.
func Of(lat, lng, size float64) (Cell, bool) {
	if !validInput(lat, lng, size) {
		return Cell{}, false
	}
	lat0, lng0 := CellOrigin(lat, lng, size)
	return Cell{Lat: lat0, Lng: lng0, Size: size}, true
}

// ParseCellID is the inverse of CellID.
func ParseCellID(id string) (Cell, bool) {
	coords, size, found := strings.Cut(id, "@")
	if !found {
		return Cell{}, false
	}
	latStr, lngStr, found := strings.Cut(coords, ",")
	if !found {
		return Cell{}, false
	}

	var c Cell
	var err error
	if c.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return Cell{}, false
	}
	if c.Lng, err = strconv.ParseFloat(lngStr, 64); err != nil {
		return Cell{}, false
	}
	if c.Size, err = strconv.ParseFloat(size, 64); err != nil || c.Size <= 0 {
		return Cell{}, false
	}
	return c, true
}

// ID returns the cell's id.
func (c Cell) ID() string {
	return formatID(c.Lat, c.Lng, c.Size)
}

// Center returns the midpoint of the cell.
func (c Cell) Center() (lat, lng float64) {
	return c.Lat + c.Size/2, c.Lng + c.Size/2
}

// RequestCoordinates returns the cell center rounded to RequestDecimals.
func (c Cell) RequestCoordinates() (lat, lng float64) {
	lat, lng = c.Center()
	return common.Round(lat, RequestDecimals), common.Round(lng, RequestDecimals)
}

// Bounds returns the south, west, north and east edges of the cell.
func (c Cell) Bounds() (south, west, north, east float64) {
	return c.Lat, c.Lng, c.Lat + c.Size, c.Lng + c.Size
}

func (c Cell) String() string {
	return fmt.Sprintf("cell(%s)", c.ID())
}

func validInput(lat, lng, size float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || !(size > 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func formatID(lat0, lng0, size float64) string {
	return ftoa(lat0) + "," + ftoa(lng0) + "@" + ftoa(size)
}

func ftoa(v float64) string {
	v = common.Round(v, CoordinateDecimals)
	if v == 0 {
		v = 0 // normalize -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
