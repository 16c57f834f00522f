package objectstore

import (
	"fmt"
	"strings"
)

// Levels are resolution tiers, coarsest first.
const (
	MinLevel   = 0
	MaxLevel   = 3
	LevelCount = MaxLevel - MinLevel + 1
)

const tasksPrefix = "tasks"

// TaskDefinitionKey is the full task definition document.
func TaskDefinitionKey(taskID string) string {
	return fmt.Sprintf("%s/%s.json", tasksPrefix, cleanTaskID(taskID))
}

// IsTaskDefinitionKey reports whether key names a task definition. Unlike
// every other task object, definitions are rewritten as the task progresses.
func IsTaskDefinitionKey(key string) bool {
	rest, ok := strings.CutPrefix(normalizeKey(key), tasksPrefix+"/")
	return ok && !strings.Contains(rest, "/") && strings.HasSuffix(rest, ".json")
}

// SnapshotImageKey is the per-level overview image.
func SnapshotImageKey(taskID string, level int) string {
	return fmt.Sprintf("%s/%s/snapshots/level_%d_color.png", tasksPrefix, cleanTaskID(taskID), level)
}

// SnapshotMetaKey is the per-level overview bounds metadata.
func SnapshotMetaKey(taskID string, level int) string {
	return fmt.Sprintf("%s/%s/snapshots/level_%d_meta.json", tasksPrefix, cleanTaskID(taskID), level)
}

// SubtileKey is an individual tile payload.
func SubtileKey(taskID string, level, row, col, subRow, subCol int) string {
	return fmt.Sprintf("%s/%s/cache/subtile_data/level_%d/tile_%d_%d/subtile_%d_%d.json",
		tasksPrefix, cleanTaskID(taskID), level, row, col, subRow, subCol)
}

// TileAssetKey is a generic tile asset consumed by other UI views.
func TileAssetKey(taskID, filename string) string {
	return fmt.Sprintf("%s/%s/tiles/%s", tasksPrefix, cleanTaskID(taskID), strings.TrimLeft(strings.TrimSpace(filename), "/"))
}

// ValidTaskID rejects ids that would escape the task's key prefix.
func ValidTaskID(taskID string) bool {
	id := strings.TrimSpace(taskID)
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\?#")
}

func cleanTaskID(taskID string) string {
	return strings.TrimSpace(taskID)
}
