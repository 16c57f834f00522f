// Package events fans reconciler output out to in-process listeners.
package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindTaskUpdate     Kind = "task_update"
	KindSnapshot       Kind = "snapshot"
	KindTile           Kind = "tile"
	KindActivity       Kind = "activity"
	KindPollingStarted Kind = "polling_started"
	KindPollingStopped Kind = "polling_stopped"
)

type Event struct {
	Kind   Kind      `json:"type"`
	TaskID string    `json:"taskId"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

type subscription struct {
	taskID string
	ch     chan Event
}

// Bus delivers events to subscribers without ever blocking the publisher.
// A slow subscriber loses its oldest buffered events first.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[uint64]*subscription),
		buffer: buffer,
	}
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.taskID != "" && sub.taskID != ev.TaskID {
			continue
		}
		push(sub.ch, ev)
	}
}

// Subscribe returns a channel of events for taskID, or for every task when
// taskID is empty. The channel is closed once ctx is done.
func (b *Bus) Subscribe(ctx context.Context, taskID string) <-chan Event {
	sub := &subscription{
		taskID: strings.TrimSpace(taskID),
		ch:     make(chan Event, b.buffer),
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch
}

// Listen calls fn for every event until the returned cancel func is called.
func (b *Bus) Listen(taskID string, fn func(Event)) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, taskID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			fn(ev)
		}
	}()
	return func() {
		cancelCtx()
		<-done
	}
}

func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func push(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
