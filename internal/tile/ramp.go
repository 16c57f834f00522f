package tile

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Ramp maps elevation in meters onto the terrain color scale
// blue, cyan, green, yellow, red from Min to Max.
type Ramp struct {
	Min float64
	Max float64
}

// DefaultRamp covers the elevation range of typical survey areas.
var DefaultRamp = Ramp{Min: 0, Max: 3000}

var rampStops = []colorful.Color{
	{R: 0, G: 0, B: 1},
	{R: 0, G: 1, B: 1},
	{R: 0, G: 1, B: 0},
	{R: 1, G: 1, B: 0},
	{R: 1, G: 0, B: 0},
}

// Color returns the ramp color for elevation. Values outside the range clamp
// to the end stops.
func (r Ramp) Color(elevation float64) colorful.Color {
	span := r.Max - r.Min
	t := 0.0
	if span > 0 && finite(elevation) {
		t = (elevation - r.Min) / span
	}
	t = math.Max(0, math.Min(1, t))

	pos := t * float64(len(rampStops)-1)
	i := int(pos)
	if i >= len(rampStops)-1 {
		return rampStops[len(rampStops)-1]
	}
	return rampStops[i].BlendRgb(rampStops[i+1], pos-float64(i))
}

// Hex is Color formatted as #rrggbb.
func (r Ramp) Hex(elevation float64) string {
	return r.Color(elevation).Hex()
}
