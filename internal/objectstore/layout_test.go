package objectstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"digwatch/internal/objectstore"
)

func TestLayoutKeys(t *testing.T) {
	tests := map[string]struct {
		got string
		exp string
	}{
		"task definition": {
			got: objectstore.TaskDefinitionKey("T1"),
			exp: "tasks/T1.json",
		},
		"snapshot image": {
			got: objectstore.SnapshotImageKey("T1", 2),
			exp: "tasks/T1/snapshots/level_2_color.png",
		},
		"snapshot meta": {
			got: objectstore.SnapshotMetaKey("T1", 0),
			exp: "tasks/T1/snapshots/level_0_meta.json",
		},
		"subtile": {
			got: objectstore.SubtileKey("T1", 3, 4, 1, 7, 0),
			exp: "tasks/T1/cache/subtile_data/level_3/tile_4_1/subtile_7_0.json",
		},
		"tile asset trims leading slash": {
			got: objectstore.TileAssetKey("T1", "/lidar.png"),
			exp: "tasks/T1/tiles/lidar.png",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.got)
		})
	}
}

func TestValidTaskID(t *testing.T) {
	tests := map[string]struct {
		id  string
		exp bool
	}{
		"plain id":  {id: "scan-2024-05", exp: true},
		"empty":     {id: "  ", exp: false},
		"dot dot":   {id: "..", exp: false},
		"slash":     {id: "a/b", exp: false},
		"query":     {id: "a?b", exp: false},
		"backslash": {id: `a\b`, exp: false},
		"uuid like": {id: "5d1f3c9e-7f0a-4e2b-9b1e-0c0e9d3b7a11", exp: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, objectstore.ValidTaskID(test.id))
		})
	}
}

func TestIsTaskDefinitionKey(t *testing.T) {
	tests := map[string]struct {
		key string
		exp bool
	}{
		"definition":         {key: objectstore.TaskDefinitionKey("T1"), exp: true},
		"leading slash":      {key: "/tasks/T1.json", exp: true},
		"snapshot meta":      {key: objectstore.SnapshotMetaKey("T1", 0), exp: false},
		"subtile":            {key: objectstore.SubtileKey("T1", 0, 0, 0, 0, 0), exp: false},
		"outside task space": {key: "other/T1.json", exp: false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, objectstore.IsTaskDefinitionKey(test.key))
		})
	}
}
