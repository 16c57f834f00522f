package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"digwatch/internal/watcher/handler"
	"digwatch/internal/watcher/middleware"
)

func NewMux(
	pollingHandler *handler.PollingHandler,
	streamHandler *handler.ProgressStreamHandler,
	gatherer prometheus.Gatherer,
) http.Handler {
	mux := http.NewServeMux()

	// Polling control
	mux.HandleFunc("POST /api/tasks/{id}/polling", pollingHandler.HandleStart)
	mux.HandleFunc("DELETE /api/tasks/{id}/polling", pollingHandler.HandleStop)
	mux.HandleFunc("GET /api/tasks/{id}/progress", pollingHandler.HandleProgress)
	mux.HandleFunc("GET /api/polling", pollingHandler.HandleList)
	mux.HandleFunc("DELETE /api/polling", pollingHandler.HandleStopAll)
	mux.HandleFunc("PUT /api/viewport", pollingHandler.HandleViewport)

	// Event stream
	mux.HandleFunc("GET /ws/progress", streamHandler.HandleProgressWS)

	// Ops
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return middleware.CORS(mux)
}
