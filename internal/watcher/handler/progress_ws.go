package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"digwatch/internal/events"
	"digwatch/internal/log"
	"digwatch/internal/objectstore"
)

// ProgressStreamHandler streams reconciler events to browser clients.
type ProgressStreamHandler struct {
	bus    *events.Bus
	ctrl   Controller
	logger log.Logger

	baseCtx context.Context
	closeFn context.CancelFunc
}

func NewProgressStreamHandler(bus *events.Bus, ctrl Controller, logger log.Logger) *ProgressStreamHandler {
	if logger == nil {
		logger = log.Noop
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressStreamHandler{bus: bus, ctrl: ctrl, logger: logger, baseCtx: ctx, closeFn: cancel}
}

// Close ends every open stream.
func (h *ProgressStreamHandler) Close() {
	h.closeFn()
}

const (
	progressWSWriteWait = 10 * time.Second
	progressWSPongWait  = 60 * time.Second
	progressWSPingEvery = (progressWSPongWait * 9) / 10
)

var progressWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type progressWSInbound struct {
	Type string `json:"type"`
	Zoom *int   `json:"zoom,omitempty"`
}

type progressWSOutbound struct {
	Type    string    `json:"type"`
	TaskID  string    `json:"taskId,omitempty"`
	Time    time.Time `json:"time,omitzero"`
	Data    any       `json:"data,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// HandleProgressWS serves /ws/progress. Without task_id every task is
// streamed. Clients may send {"type":"zoom","zoom":n} and {"type":"ping"}.
func (h *ProgressStreamHandler) HandleProgressWS(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID != "" && !objectstore.ValidTaskID(taskID) {
		http.Error(w, "invalid task_id", http.StatusBadRequest)
		return
	}

	conn, err := progressWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopOnClose := context.AfterFunc(h.baseCtx, cancel)
	defer stopOnClose()
	// Unblocks the read loop below once the stream is over.
	stopConnClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopConnClose()

	if err := conn.SetReadDeadline(time.Now().Add(progressWSPongWait)); err != nil {
		h.logger.Warningf("progress ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(progressWSPongWait))
	})

	writeCh := make(chan progressWSOutbound, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(progressWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(progressWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(progressWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Subscribe before replaying so nothing published in between is lost.
	sub := h.bus.Subscribe(ctx, taskID)
	pushProgressWS(writeCh, progressWSOutbound{Type: "subscribed", TaskID: taskID})
	if taskID != "" {
		if progress, ok := h.ctrl.LatestProgress(taskID); ok {
			pushProgressWS(writeCh, progressWSOutbound{
				Type:   string(events.KindTaskUpdate),
				TaskID: taskID,
				Time:   time.Now().UTC(),
				Data:   progress,
			})
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				pushProgressWS(writeCh, progressWSOutbound{
					Type:   string(ev.Kind),
					TaskID: ev.TaskID,
					Time:   ev.Time,
					Data:   ev.Data,
				})
			}
		}
	}()

	for {
		var in progressWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			pushProgressWS(writeCh, progressWSOutbound{Type: "pong"})
		case "zoom":
			if in.Zoom == nil {
				pushProgressWS(writeCh, progressWSOutbound{
					Type:    "error",
					Code:    "invalid_argument",
					Message: "zoom is required",
				})
				continue
			}
			h.ctrl.SetZoom(ctx, *in.Zoom)
			pushProgressWS(writeCh, progressWSOutbound{Type: "zoom_ack", Data: map[string]int{"zoom": *in.Zoom}})
		case "":
			pushProgressWS(writeCh, progressWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "type is required",
			})
		default:
			pushProgressWS(writeCh, progressWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "unsupported type: " + in.Type,
			})
		}
	}
}

// pushProgressWS never blocks: when the client falls behind the oldest
// pending message is dropped.
func pushProgressWS(writeCh chan progressWSOutbound, out progressWSOutbound) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
