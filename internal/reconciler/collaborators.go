package reconciler

import (
	"context"
	"time"

	"digwatch/internal/tile"
)

// SnapshotOverlay asks the renderer to show a level's overview image.
type SnapshotOverlay struct {
	TaskID     string      `json:"task_id"`
	Level      int         `json:"level"`
	Resolution string      `json:"resolution"`
	ImageKey   string      `json:"image_key"`
	ImageURL   string      `json:"image_url,omitempty"`
	Bounds     tile.Bounds `json:"bounds"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Renderer displays discovered artifacts. Implementations must not call
// back into StopPolling or StopAllPolling synchronously.
type Renderer interface {
	RenderSnapshot(ctx context.Context, overlay SnapshotOverlay)
	RenderTile(ctx context.Context, t tile.Tile)
}

// ActivityRecorder drives transient "work is happening" indicators.
type ActivityRecorder interface {
	RecordActivity(taskID string, at time.Time)
}

// Notifier receives task updates.
type Notifier interface {
	TaskUpdated(taskID string, progress *Progress)
	PollingChanged(taskID string, active bool)
}

// GridProvider returns the declared tile grid of a task.
type GridProvider interface {
	Grid(ctx context.Context, taskID string) (rows, cols int, ok bool, err error)
}

// Metrics receives reconciler counters.
type Metrics interface {
	IncDispatch()
	IncTile(result string)
	SetActiveTasks(n int)
	SetLiveTasks(n int)
	IncPollFailure(loop string)
}

type noopCollaborator struct{}

func (noopCollaborator) RenderSnapshot(context.Context, SnapshotOverlay) {}
func (noopCollaborator) RenderTile(context.Context, tile.Tile)           {}
func (noopCollaborator) RecordActivity(string, time.Time)                {}
func (noopCollaborator) TaskUpdated(string, *Progress)                   {}
func (noopCollaborator) PollingChanged(string, bool)                     {}
func (noopCollaborator) IncDispatch()                                    {}
func (noopCollaborator) IncTile(string)                                  {}
func (noopCollaborator) SetActiveTasks(int)                              {}
func (noopCollaborator) SetLiveTasks(int)                                {}
func (noopCollaborator) IncPollFailure(string)                           {}
