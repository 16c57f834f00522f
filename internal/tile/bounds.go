package tile

import "math"

const metersPerDegreeLat = 111320.0

// Bounds is a lat/lon rectangle.
type Bounds struct {
	South float64 `json:"south_lat"`
	North float64 `json:"north_lat"`
	West  float64 `json:"west_lon"`
	East  float64 `json:"east_lon"`
}

// Valid reports whether all edges are finite and ordered.
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.South, b.North, b.West, b.East} {
		if !finite(v) {
			return false
		}
	}
	return b.South <= b.North && b.West <= b.East
}

// footprint returns the half extents in degrees of one pixel at level,
// centered on lat. Longitude degrees shrink with cos(lat).
func footprint(lat float64, level int) (halfLat, halfLon float64) {
	m := MetersPerPixel(level)
	dLat := m / metersPerDegreeLat
	cos := math.Cos(lat * math.Pi / 180)
	if math.Abs(cos) < 1e-6 {
		cos = 1e-6
	}
	dLon := m / (metersPerDegreeLat * math.Abs(cos))
	return dLat / 2, dLon / 2
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
