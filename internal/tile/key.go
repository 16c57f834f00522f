// Package tile decodes and validates individual tile payloads written by a
// scan job, and normalizes their bounds and color before rendering.
package tile

import (
	"fmt"

	"digwatch/internal/objectstore"
)

// Key addresses one tile within a task.
type Key struct {
	Level  int `json:"level"`
	Row    int `json:"row"`
	Col    int `json:"col"`
	SubRow int `json:"sub_row"`
	SubCol int `json:"sub_col"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d_%d/%d_%d", k.Level, k.Row, k.Col, k.SubRow, k.SubCol)
}

// ObjectKey is the remote key of the tile payload for taskID.
func (k Key) ObjectKey(taskID string) string {
	return objectstore.SubtileKey(taskID, k.Level, k.Row, k.Col, k.SubRow, k.SubCol)
}

// SubdivisionsPerAxis is the sub-tile fan-out per grid cell for a level:
// 1, 2, 4, 8 for levels 0..3.
func SubdivisionsPerAxis(level int) int {
	if level <= objectstore.MinLevel {
		return 1
	}
	if level > objectstore.MaxLevel {
		level = objectstore.MaxLevel
	}
	return 1 << level
}

// metersPerPixel maps a level to ground resolution.
var metersPerPixel = [objectstore.LevelCount]float64{8, 4, 2, 1}

// MetersPerPixel returns the ground resolution of level, clamped to the
// known table.
func MetersPerPixel(level int) float64 {
	if level < objectstore.MinLevel {
		level = objectstore.MinLevel
	}
	if level > objectstore.MaxLevel {
		level = objectstore.MaxLevel
	}
	return metersPerPixel[level]
}

// ResolutionLabel is the human label for a level, e.g. "2m".
func ResolutionLabel(level int) string {
	return fmt.Sprintf("%gm", MetersPerPixel(level))
}
