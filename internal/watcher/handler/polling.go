package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"digwatch/internal/log"
	"digwatch/internal/reconciler"
)

// Controller is the reconciler surface the HTTP handlers drive.
type Controller interface {
	StartPolling(taskID string) error
	StopPolling(taskID string) error
	StopAllPolling() error
	ActiveTasks() []string
	LiveTasks() []string
	LatestProgress(taskID string) (*reconciler.Progress, bool)
	CurrentSnapshotLevel(taskID string) (int, bool)
	SetZoom(ctx context.Context, zoom int)
	Zoom() int
}

// PollingHandler serves the polling control REST endpoints.
type PollingHandler struct {
	ctrl   Controller
	logger log.Logger
}

func NewPollingHandler(ctrl Controller, logger log.Logger) *PollingHandler {
	if logger == nil {
		logger = log.Noop
	}
	return &PollingHandler{ctrl: ctrl, logger: logger}
}

type pollingStateResponse struct {
	TaskID  string `json:"task_id,omitempty"`
	Polling bool   `json:"polling"`
}

type pollingListResponse struct {
	Active []string `json:"active"`
	Live   []string `json:"live"`
	Zoom   int      `json:"zoom"`
}

type progressResponse struct {
	*reconciler.Progress
	Polling       bool `json:"polling"`
	SnapshotLevel *int `json:"current_snapshot_level,omitempty"`
}

type viewportRequest struct {
	Zoom *int `json:"zoom"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *PollingHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("id"))
	if err := h.ctrl.StartPolling(taskID); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pollingStateResponse{TaskID: taskID, Polling: true})
}

func (h *PollingHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("id"))
	if err := h.ctrl.StopPolling(taskID); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollingStateResponse{TaskID: taskID, Polling: false})
}

func (h *PollingHandler) HandleStopAll(w http.ResponseWriter, _ *http.Request) {
	if err := h.ctrl.StopAllPolling(); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollingStateResponse{Polling: false})
}

func (h *PollingHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pollingListResponse{
		Active: nonNil(h.ctrl.ActiveTasks()),
		Live:   nonNil(h.ctrl.LiveTasks()),
		Zoom:   h.ctrl.Zoom(),
	})
}

func (h *PollingHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("id"))
	progress, ok := h.ctrl.LatestProgress(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "not_found", Message: "no progress observed for " + taskID})
		return
	}
	resp := progressResponse{Progress: progress}
	for _, id := range h.ctrl.ActiveTasks() {
		if id == taskID {
			resp.Polling = true
			break
		}
	}
	if level, ok := h.ctrl.CurrentSnapshotLevel(taskID); ok {
		resp.SnapshotLevel = &level
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleViewport accepts {"zoom": n} from the map view.
func (h *PollingHandler) HandleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Zoom == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_argument", Message: "zoom is required"})
		return
	}
	h.ctrl.SetZoom(r.Context(), *req.Zoom)
	writeJSON(w, http.StatusOK, map[string]int{"zoom": *req.Zoom})
}

func (h *PollingHandler) writeControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, reconciler.ErrInvalidTaskID) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_argument", Message: err.Error()})
		return
	}
	h.logger.Errorf("polling control failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
