package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digwatch/internal/events"
	"digwatch/internal/reconciler"
	"digwatch/internal/taskstatus"
	"digwatch/internal/watcher/handler"
)

type fakeController struct {
	mu       sync.Mutex
	active   map[string]bool
	progress map[string]*reconciler.Progress
	zoom     int
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{active: map[string]bool{}, progress: map[string]*reconciler.Progress{}}
}

func (f *fakeController) StartPolling(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.active[taskID] = true
	return nil
}

func (f *fakeController) StopPolling(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, taskID)
	return nil
}

func (f *fakeController) StopAllPolling() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = map[string]bool{}
	return nil
}

func (f *fakeController) ActiveTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.active {
		out = append(out, id)
	}
	return out
}

func (f *fakeController) LiveTasks() []string { return nil }

func (f *fakeController) LatestProgress(taskID string) (*reconciler.Progress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[taskID]
	return p, ok
}

func (f *fakeController) CurrentSnapshotLevel(taskID string) (int, bool) {
	if taskID == "T1" {
		return 1, true
	}
	return 0, false
}

func (f *fakeController) SetZoom(_ context.Context, zoom int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoom = zoom
}

func (f *fakeController) Zoom() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoom
}

func newPollingMux(ctrl handler.Controller) *http.ServeMux {
	h := handler.NewPollingHandler(ctrl, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks/{id}/polling", h.HandleStart)
	mux.HandleFunc("DELETE /api/tasks/{id}/polling", h.HandleStop)
	mux.HandleFunc("GET /api/tasks/{id}/progress", h.HandleProgress)
	mux.HandleFunc("GET /api/polling", h.HandleList)
	mux.HandleFunc("DELETE /api/polling", h.HandleStopAll)
	mux.HandleFunc("PUT /api/viewport", h.HandleViewport)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPollingHandlerLifecycle(t *testing.T) {
	ctrl := newFakeController()
	mux := newPollingMux(ctrl)

	rec := do(t, mux, http.MethodPost, "/api/tasks/T1/polling", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"task_id":"T1","polling":true}`, rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/api/polling", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":["T1"],"live":[],"zoom":0}`, rec.Body.String())

	rec = do(t, mux, http.MethodDelete, "/api/tasks/T1/polling", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ctrl.ActiveTasks())

	_ = do(t, mux, http.MethodPost, "/api/tasks/T2/polling", "")
	rec = do(t, mux, http.MethodDelete, "/api/polling", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ctrl.ActiveTasks())
}

func TestPollingHandlerErrors(t *testing.T) {
	tests := map[string]struct {
		startErr  error
		expStatus int
		expCode   string
	}{
		"invalid task id": {
			startErr:  fmt.Errorf("%w: %q", reconciler.ErrInvalidTaskID, ".."),
			expStatus: http.StatusBadRequest,
			expCode:   "invalid_argument",
		},
		"internal failure": {
			startErr:  fmt.Errorf("reconciler is closed"),
			expStatus: http.StatusInternalServerError,
			expCode:   "internal",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = test.startErr
			rec := do(t, newPollingMux(ctrl), http.MethodPost, "/api/tasks/T1/polling", "")

			assert.Equal(t, test.expStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, test.expCode, body["code"])
		})
	}
}

func TestPollingHandlerProgress(t *testing.T) {
	ctrl := newFakeController()
	ctrl.active["T1"] = true
	ctrl.progress["T1"] = &reconciler.Progress{
		TaskID:                "T1",
		HighestLevelCompleted: 1,
		Status:                taskstatus.StatusRunning,
		CompletionPercentage:  50,
	}
	mux := newPollingMux(ctrl)

	rec := do(t, mux, http.MethodGet, "/api/tasks/T1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "T1", got["task_id"])
	assert.Equal(t, "running", got["status"])
	assert.Equal(t, true, got["polling"])
	assert.InDelta(t, 1.0, got["current_snapshot_level"], 1e-9)
	assert.InDelta(t, 50.0, got["completion_percentage"], 1e-9)

	rec = do(t, mux, http.MethodGet, "/api/tasks/T9/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPollingHandlerViewport(t *testing.T) {
	ctrl := newFakeController()
	mux := newPollingMux(ctrl)

	rec := do(t, mux, http.MethodPut, "/api/viewport", `{"zoom": 12}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, ctrl.Zoom())

	rec = do(t, mux, http.MethodPut, "/api/viewport", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, mux, http.MethodPut, "/api/viewport", `zoom`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func dialProgress(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestProgressWSStreamsTaskEvents(t *testing.T) {
	bus := events.NewBus(16)
	ctrl := newFakeController()
	ctrl.progress["T1"] = &reconciler.Progress{TaskID: "T1", Status: taskstatus.StatusRunning}
	h := handler.NewProgressStreamHandler(bus, ctrl, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/progress", h.HandleProgressWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialProgress(t, srv, "?task_id=T1")
	assert.Equal(t, "subscribed", readMessage(t, conn)["type"])
	replay := readMessage(t, conn)
	assert.Equal(t, "task_update", replay["type"])
	assert.Equal(t, "T1", replay["taskId"])

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(events.Event{Kind: events.KindTile, TaskID: "T2", Data: "other"})
	bus.Publish(events.Event{Kind: events.KindTile, TaskID: "T1", Data: "mine"})

	msg := readMessage(t, conn)
	assert.Equal(t, "tile", msg["type"])
	assert.Equal(t, "mine", msg["data"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "zoom", "zoom": 13}))
	assert.Equal(t, "zoom_ack", readMessage(t, conn)["type"])
	assert.Equal(t, 13, ctrl.Zoom())

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	errMsg := readMessage(t, conn)
	assert.Equal(t, "error", errMsg["type"])
	assert.Equal(t, "invalid_argument", errMsg["code"])
}

func TestProgressWSRejectsBadTaskID(t *testing.T) {
	h := handler.NewProgressStreamHandler(events.NewBus(4), newFakeController(), nil)
	rec := httptest.NewRecorder()
	h.HandleProgressWS(rec, httptest.NewRequest(http.MethodGet, "/ws/progress?task_id=a/b", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressWSCloseEndsStreams(t *testing.T) {
	bus := events.NewBus(4)
	h := handler.NewProgressStreamHandler(bus, newFakeController(), nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleProgressWS))
	defer srv.Close()

	conn := dialProgress(t, srv, "")
	assert.Equal(t, "subscribed", readMessage(t, conn)["type"])

	h.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	assert.Error(t, conn.ReadJSON(&msg))
	require.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
