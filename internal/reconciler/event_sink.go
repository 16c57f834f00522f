package reconciler

import (
	"context"
	"time"

	"digwatch/internal/events"
	"digwatch/internal/tile"
)

// EventSink publishes everything the reconciler produces onto an event bus,
// where websocket clients pick it up. It implements Renderer,
// ActivityRecorder and Notifier.
type EventSink struct {
	Bus *events.Bus
}

type activityData struct {
	LastActivity time.Time `json:"last_activity"`
}

type pollingData struct {
	Active bool `json:"active"`
}

func (s EventSink) RenderSnapshot(_ context.Context, overlay SnapshotOverlay) {
	s.Bus.Publish(events.Event{Kind: events.KindSnapshot, TaskID: overlay.TaskID, Data: overlay})
}

func (s EventSink) RenderTile(_ context.Context, t tile.Tile) {
	s.Bus.Publish(events.Event{Kind: events.KindTile, TaskID: t.TaskID, Data: t})
}

func (s EventSink) RecordActivity(taskID string, at time.Time) {
	s.Bus.Publish(events.Event{Kind: events.KindActivity, TaskID: taskID, Data: activityData{LastActivity: at}})
}

func (s EventSink) TaskUpdated(taskID string, progress *Progress) {
	s.Bus.Publish(events.Event{Kind: events.KindTaskUpdate, TaskID: taskID, Data: progress})
}

func (s EventSink) PollingChanged(taskID string, active bool) {
	kind := events.KindPollingStopped
	if active {
		kind = events.KindPollingStarted
	}
	s.Bus.Publish(events.Event{Kind: kind, TaskID: taskID, Data: pollingData{Active: active}})
}

var (
	_ Renderer         = EventSink{}
	_ ActivityRecorder = EventSink{}
	_ Notifier         = EventSink{}
)
