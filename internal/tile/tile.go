package tile

import (
	"encoding/json"
	"errors"
	"fmt"

	"digwatch/internal/objectstore"
)

var (
	ErrMalformed          = errors.New("tile payload is not a JSON object")
	ErrMissingCoordinates = errors.New("tile payload has no lat/lon")
	ErrInvalidBounds      = errors.New("tile payload has non-numeric bounds")
)

// Tile is a validated payload ready for rendering.
type Tile struct {
	TaskID    string   `json:"task_id"`
	Key       Key      `json:"key"`
	Level     int      `json:"level"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Elevation *float64 `json:"elevation,omitempty"`
	// Color is a CSS color, empty when neither the payload nor the
	// elevation provided one.
	Color         string      `json:"color,omitempty"`
	ColorSource   ColorSource `json:"color_source,omitempty"`
	Bounds        Bounds      `json:"bounds"`
	BoundsDerived bool        `json:"bounds_derived"`
	// Properties holds payload fields this package does not interpret.
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
}

// Normalizer validates tile payloads.
type Normalizer struct {
	Ramp Ramp
}

func NewNormalizer(ramp Ramp) *Normalizer {
	if ramp.Max <= ramp.Min {
		ramp = DefaultRamp
	}
	return &Normalizer{Ramp: ramp}
}

var knownFields = []string{
	"lat", "lon", "elevation", "color", "level",
	"subtile_lat0", "subtile_lat1", "subtile_lon0", "subtile_lon1",
}

// Normalize decodes data fetched for key. It rejects payloads without
// coordinates or with non-numeric bounds, fills in missing bounds from the
// tile level, and resolves the final color.
func (n *Normalizer) Normalize(taskID string, key Key, data []byte) (Tile, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Tile{}, ErrMalformed
	}

	lat, latOK, _ := numberField(fields["lat"])
	lon, lonOK, _ := numberField(fields["lon"])
	if !latOK || !lonOK {
		return Tile{}, ErrMissingCoordinates
	}

	t := Tile{
		TaskID: taskID,
		Key:    key,
		Level:  declaredLevel(fields["level"], key.Level),
		Lat:    lat,
		Lon:    lon,
	}
	if elev, ok, _ := numberField(fields["elevation"]); ok {
		t.Elevation = &elev
	}

	bounds, derived, err := resolveBounds(fields, lat, lon, t.Level)
	if err != nil {
		return Tile{}, err
	}
	t.Bounds = bounds
	t.BoundsDerived = derived

	t.Color, t.ColorSource = n.resolveColor(fields["color"], t.Elevation)

	for _, name := range knownFields {
		delete(fields, name)
	}
	if len(fields) > 0 {
		t.Properties = fields
	}
	return t, nil
}

func (n *Normalizer) resolveColor(raw json.RawMessage, elevation *float64) (string, ColorSource) {
	pc, ok := parseColor(raw)
	switch {
	case ok && pc.sentinel && elevation != nil:
		return n.Ramp.Hex(*elevation), ColorSourceElevation
	case ok:
		return pc.css, ColorSourcePayload
	case elevation != nil:
		return n.Ramp.Hex(*elevation), ColorSourceElevation
	default:
		return "", ColorSourceNone
	}
}

// resolveBounds keeps every supplied edge and derives only the missing ones.
func resolveBounds(fields map[string]json.RawMessage, lat, lon float64, level int) (Bounds, bool, error) {
	halfLat, halfLon := footprint(lat, level)
	var b Bounds
	edges := []struct {
		name    string
		dst     *float64
		derived float64
	}{
		{"subtile_lat0", &b.South, lat - halfLat},
		{"subtile_lat1", &b.North, lat + halfLat},
		{"subtile_lon0", &b.West, lon - halfLon},
		{"subtile_lon1", &b.East, lon + halfLon},
	}

	derived := false
	for _, e := range edges {
		v, ok, present := numberField(fields[e.name])
		switch {
		case ok:
			*e.dst = v
		case present:
			return Bounds{}, false, fmt.Errorf("%s: %w", e.name, ErrInvalidBounds)
		default:
			*e.dst = e.derived
			derived = true
		}
	}
	return b, derived, nil
}

// numberField decodes a finite JSON number. present is true when the field
// exists and is not null, even if it is not a usable number.
func numberField(raw json.RawMessage) (v float64, ok bool, present bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, false
	}
	// json.Number would also accept quoted numerals.
	if raw[0] == '"' {
		return 0, false, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false, true
	}
	f, err := n.Float64()
	if err != nil || !finite(f) {
		return 0, false, true
	}
	return f, true, true
}

func declaredLevel(raw json.RawMessage, fallback int) int {
	v, ok, _ := numberField(raw)
	if !ok || v != float64(int(v)) || int(v) < objectstore.MinLevel || int(v) > objectstore.MaxLevel {
		return fallback
	}
	return int(v)
}
