package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"digwatch/internal/objectstore"
	"digwatch/internal/taskstatus"
	"digwatch/internal/tile"
)

// Poll runs one discovery pass for taskID and dispatches the result. A nil
// progress with a nil error means no level has been published yet.
func (r *Reconciler) Poll(ctx context.Context, taskID string) (*Progress, error) {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return nil, ErrNilReconciler
	}
	progress, err := r.DiscoverSnapshots(ctx, taskID)
	if err != nil || progress == nil {
		return nil, err
	}
	r.progress.Add(taskID, progress)
	r.Dispatch(ctx, taskID, progress)
	return progress, nil
}

// DiscoverSnapshots probes the level overview images in ascending order and
// stops at the first missing level. Levels are published strictly in order,
// so a gap means nothing finer exists yet.
func (r *Reconciler) DiscoverSnapshots(ctx context.Context, taskID string) (*Progress, error) {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return nil, ErrNilReconciler
	}
	if !objectstore.ValidTaskID(taskID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}

	var levels []LevelProgress
	for level := objectstore.MinLevel; level <= objectstore.MaxLevel; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := r.cfg.Store.Stat(ctx, objectstore.SnapshotImageKey(taskID, level))
		if objectstore.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("probe snapshot level %d: %w", level, err)
		}
		ts := info.LastModified
		if ts.IsZero() {
			ts = r.cfg.Clock().UTC()
		}
		levels = append(levels, LevelProgress{
			Level:      level,
			Resolution: tile.ResolutionLabel(level),
			Status:     LevelCompleted,
			Timestamp:  ts,
		})
	}
	if len(levels) == 0 {
		return nil, nil
	}

	last := levels[0].Timestamp
	for _, l := range levels[1:] {
		if l.Timestamp.After(last) {
			last = l.Timestamp
		}
	}
	return &Progress{
		TaskID:                taskID,
		Levels:                levels,
		HighestLevelCompleted: levels[len(levels)-1].Level,
		LastUpdated:           last,
		Status:                r.taskStatus(ctx, taskID, last),
		CompletionPercentage:  float64(len(levels)) / float64(objectstore.LevelCount) * 100,
	}, nil
}

// taskStatus asks the status provider first. Without an answer a task counts
// as running while its newest artifact is within the activity window.
func (r *Reconciler) taskStatus(ctx context.Context, taskID string, lastUpdated time.Time) taskstatus.Status {
	if r.cfg.StatusProvider != nil {
		status, ok, err := r.cfg.StatusProvider.Status(ctx, taskID)
		if err != nil {
			r.logger.Debugf("status provider failed for %s: %v", taskID, err)
		}
		if ok && status != "" {
			return status
		}
	}
	if r.cfg.Clock().Sub(lastUpdated) <= r.cfg.ActivityWindow {
		return taskstatus.StatusRunning
	}
	return taskstatus.StatusCompleted
}
