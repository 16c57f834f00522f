package reconciler

import "digwatch/internal/tile"

// knownTiles remembers, per task and level, every tile already handled.
// Tiles are write-once, so a handled tile is never probed again.
type knownTiles map[string]map[int]map[tile.Key]struct{}

func (k knownTiles) has(taskID string, key tile.Key) bool {
	_, ok := k[taskID][key.Level][key]
	return ok
}

func (k knownTiles) add(taskID string, key tile.Key) {
	levels, ok := k[taskID]
	if !ok {
		levels = make(map[int]map[tile.Key]struct{})
		k[taskID] = levels
	}
	set, ok := levels[key.Level]
	if !ok {
		set = make(map[tile.Key]struct{})
		levels[key.Level] = set
	}
	set[key] = struct{}{}
}

func (k knownTiles) count(taskID string, level int) int {
	return len(k[taskID][level])
}

func (k knownTiles) forgetTask(taskID string) {
	delete(k, taskID)
}
