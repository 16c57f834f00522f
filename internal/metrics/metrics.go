// Package metrics exports reconciler and object store activity to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "digwatch"

// Recorder implements objectstore.Observer and reconciler.Metrics.
type Recorder struct {
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	fetchedBytes  prometheus.Counter
	dispatches    prometheus.Counter
	tiles         *prometheus.CounterVec
	activeTasks   prometheus.Gauge
	liveTasks     prometheus.Gauge
	pollFailures  *prometheus.CounterVec
}

// NewRecorder registers collectors on reg (the default registerer when nil).
// Collectors that are already registered are reused.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of object store probes and fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_errors_total",
			Help:      "Object store operations that failed for reasons other than a missing object.",
		}, []string{"operation"}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fetched_bytes_total",
			Help:      "Payload bytes fetched from the object store.",
		}),
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "dispatches_total",
			Help:      "Progress records newer than the task watermark.",
		}),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "tiles_total",
			Help:      "Discovered tiles by outcome.",
		}, []string{"result"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "active_tasks",
			Help:      "Tasks with an active snapshot polling loop.",
		}),
		liveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "live_tasks",
			Help:      "Tasks with an active live tile polling loop.",
		}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "poll_failures_total",
			Help:      "Poll cycles that failed and were retried on the next tick.",
		}, []string{"loop"}),
	}

	var err error
	if r.storeDuration, err = register(reg, r.storeDuration); err != nil {
		return nil, err
	}
	if r.storeErrors, err = register(reg, r.storeErrors); err != nil {
		return nil, err
	}
	if r.fetchedBytes, err = register(reg, r.fetchedBytes); err != nil {
		return nil, err
	}
	if r.dispatches, err = register(reg, r.dispatches); err != nil {
		return nil, err
	}
	if r.tiles, err = register(reg, r.tiles); err != nil {
		return nil, err
	}
	if r.activeTasks, err = register(reg, r.activeTasks); err != nil {
		return nil, err
	}
	if r.liveTasks, err = register(reg, r.liveTasks); err != nil {
		return nil, err
	}
	if r.pollFailures, err = register(reg, r.pollFailures); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (r *Recorder) RecordProbe(duration time.Duration, found bool, err error) {
	if r == nil {
		return
	}
	result := "missing"
	switch {
	case err != nil:
		result = "error"
		r.storeErrors.WithLabelValues("probe").Inc()
	case found:
		result = "found"
	}
	r.storeDuration.WithLabelValues("probe", result).Observe(duration.Seconds())
}

func (r *Recorder) RecordFetch(duration time.Duration, sizeBytes int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.storeErrors.WithLabelValues("fetch").Inc()
		r.storeDuration.WithLabelValues("fetch", "error").Observe(duration.Seconds())
		return
	}
	r.storeDuration.WithLabelValues("fetch", "ok").Observe(duration.Seconds())
	r.fetchedBytes.Add(float64(sizeBytes))
}

func (r *Recorder) IncDispatch() {
	if r == nil {
		return
	}
	r.dispatches.Inc()
}

func (r *Recorder) IncTile(result string) {
	if r == nil {
		return
	}
	r.tiles.WithLabelValues(result).Inc()
}

func (r *Recorder) SetActiveTasks(n int) {
	if r == nil {
		return
	}
	r.activeTasks.Set(float64(n))
}

func (r *Recorder) SetLiveTasks(n int) {
	if r == nil {
		return
	}
	r.liveTasks.Set(float64(n))
}

func (r *Recorder) IncPollFailure(loop string) {
	if r == nil {
		return
	}
	r.pollFailures.WithLabelValues(loop).Inc()
}
