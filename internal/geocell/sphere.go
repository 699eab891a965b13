package geocell

import (
	"math"

	"github.com/golang/geo/r3"
)

// SurfaceRadius is the radius, in globe units, at which cell centers sit. It is
// slightly above the unit sphere so overlays do not z-fight with the globe mesh.
const SurfaceRadius = 1.01

// LatLngToVector converts geographic coordinates to a point in the globe's
// local frame, with +Y through the north pole and longitude 0 on +Z.
func LatLngToVector(lat, lng, radius float64) r3.Vector {
	phi := (90 - lat) * math.Pi / 180
	theta := (lng + 180) * math.Pi / 180

	x := radius * math.Sin(phi) * math.Cos(theta)
	y := radius * math.Cos(phi)
	z := radius * math.Sin(phi) * math.Sin(theta)

	return r3.Vector{X: -z, Y: y, Z: -x}
}

// VectorToLatLng is the inverse of LatLngToVector for any non-zero point; the
// radius is ignored. Longitudes are normalized to [-180, 180).
func VectorToLatLng(v r3.Vector) (lat, lng float64) {
	r := v.Norm()
	if r == 0 {
		return 0, 0
	}
	x, y, z := -v.Z, v.Y, -v.X

	phi := math.Acos(math.Max(-1, math.Min(1, y/r)))
	theta := math.Atan2(z, x)

	lat = 90 - phi*180/math.Pi
	lng = theta*180/math.Pi - 180
	for lng < -180 {
		lng += 360
	}
	for lng >= 180 {
		lng -= 360
	}
	return lat, lng
}
