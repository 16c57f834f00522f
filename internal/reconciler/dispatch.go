package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"digwatch/internal/log"
	"digwatch/internal/objectstore"
	"digwatch/internal/tile"
)

type snapshotCacheKey struct {
	taskID string
	level  int
}

// Dispatch applies a discovery result. Only a result strictly newer than
// the last one seen for the task triggers the overview render, live polling,
// activity and notification. It reports whether that happened.
func (r *Reconciler) Dispatch(ctx context.Context, taskID string, progress *Progress) bool {
	taskID = strings.TrimSpace(taskID)
	if r == nil || progress == nil {
		return false
	}

	r.mu.Lock()
	prev, seen := r.lastCheck[taskID]
	newer := !seen || progress.LastUpdated.After(prev)
	if newer {
		r.lastCheck[taskID] = progress.LastUpdated
	}
	r.mu.Unlock()

	if newer {
		r.cfg.Metrics.IncDispatch()
		if err := r.renderOverview(ctx, taskID, progress); err != nil && ctx.Err() == nil {
			r.logger.WithValues(log.Kv{"task_id": taskID}).Warningf("render overview: %v", err)
		}
		if progress.Running() {
			r.startLiveTilePolling(taskID)
		}
		r.cfg.Activity.RecordActivity(taskID, progress.LastUpdated)
		r.cfg.Notifier.TaskUpdated(taskID, progress)
	}

	if progress.Completed() {
		r.stopLiveTilePolling(taskID)
	}
	return newer
}

// SetZoom records the viewport zoom and re-evaluates the overview level of
// every polled task.
func (r *Reconciler) SetZoom(ctx context.Context, zoom int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.zoom = zoom
	tasks := sortedKeys(r.active)
	r.mu.Unlock()

	for _, taskID := range tasks {
		progress, ok := r.progress.Get(taskID)
		if !ok {
			continue
		}
		if err := r.renderOverview(ctx, taskID, progress); err != nil && ctx.Err() == nil {
			r.logger.WithValues(log.Kv{"task_id": taskID}).Warningf("render overview: %v", err)
		}
	}
}

// TargetLevelForZoom maps a map zoom to the overview level worth showing.
func TargetLevelForZoom(zoom int) int {
	switch {
	case zoom < 10:
		return 0
	case zoom < 12:
		return 1
	case zoom < 14:
		return 2
	default:
		return 3
	}
}

// overviewLevel picks the finest completed level not exceeding the zoom
// target, falling back to the coarsest one.
func overviewLevel(progress *Progress, zoom int) int {
	target := TargetLevelForZoom(zoom)
	best := progress.Levels[0].Level
	for _, l := range progress.Levels {
		if l.Level <= target && l.Level > best {
			best = l.Level
		}
	}
	return best
}

func (r *Reconciler) renderOverview(ctx context.Context, taskID string, progress *Progress) error {
	if len(progress.Levels) == 0 {
		return nil
	}
	r.mu.Lock()
	level := overviewLevel(progress, r.zoom)
	key := snapshotCacheKey{taskID: taskID, level: level}
	loaded, seen := r.snapshotLoaded[key]
	switch {
	case loaded:
		r.shownLevel[taskID] = level
		r.mu.Unlock()
		return nil
	case seen:
		// Another caller is rendering this overlay.
		r.mu.Unlock()
		return nil
	}
	r.snapshotLoaded[key] = false
	r.mu.Unlock()

	bounds, err := r.snapshotBounds(ctx, taskID, level)
	if err != nil {
		r.mu.Lock()
		if done, ok := r.snapshotLoaded[key]; ok && !done {
			delete(r.snapshotLoaded, key)
		}
		r.mu.Unlock()
		return err
	}
	imageKey := objectstore.SnapshotImageKey(taskID, level)
	overlay := SnapshotOverlay{
		TaskID:     taskID,
		Level:      level,
		Resolution: tile.ResolutionLabel(level),
		ImageKey:   imageKey,
		Bounds:     bounds,
		Timestamp:  progress.levelTimestamp(level),
	}
	if r.cfg.ObjectURL != nil {
		overlay.ImageURL = r.cfg.ObjectURL(imageKey)
	}
	r.cfg.Renderer.RenderSnapshot(ctx, overlay)

	r.mu.Lock()
	// A stop during the render already forgot the task.
	if _, ok := r.snapshotLoaded[key]; ok {
		r.snapshotLoaded[key] = true
		r.shownLevel[taskID] = level
	}
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) snapshotBounds(ctx context.Context, taskID string, level int) (tile.Bounds, error) {
	raw, err := r.cfg.Store.Get(ctx, objectstore.SnapshotMetaKey(taskID, level))
	if err != nil {
		return tile.Bounds{}, fmt.Errorf("load snapshot meta level %d: %w", level, err)
	}
	var bounds tile.Bounds
	if err := json.Unmarshal(raw, &bounds); err != nil {
		return tile.Bounds{}, fmt.Errorf("decode snapshot meta level %d: %w", level, err)
	}
	if bounds == (tile.Bounds{}) || !bounds.Valid() {
		return tile.Bounds{}, fmt.Errorf("snapshot meta level %d: %w", level, tile.ErrInvalidBounds)
	}
	return bounds, nil
}
